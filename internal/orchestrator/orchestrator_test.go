package orchestrator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"lumenpay/go-backend/internal/keyvault"
	"lumenpay/go-backend/internal/ledger"
	"lumenpay/go-backend/internal/sequence"
	"lumenpay/go-backend/pkg/models"
)

type fakeVault struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	keys     map[string]ed25519.PrivateKey
	cached   map[string]uint64
}

func newFakeVault(t *testing.T, identities ...string) *fakeVault {
	t.Helper()
	v := &fakeVault{
		accounts: make(map[string]models.Account),
		keys:     make(map[string]ed25519.PrivateKey),
		cached:   make(map[string]uint64),
	}
	for _, id := range identities {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("keygen: %v", err)
		}
		address, err := keyvault.BuildAddress(pub)
		if err != nil {
			t.Fatalf("address: %v", err)
		}
		v.accounts[id] = models.Account{Identity: id, Address: address, PublicKey: pub}
		v.keys[id] = priv
	}
	return v
}

func (v *fakeVault) GetAccount(identity string) (models.Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	acct, ok := v.accounts[identity]
	if !ok {
		return models.Account{}, keyvault.ErrNotFound
	}
	return acct, nil
}

func (v *fakeVault) SigningKey(identity string) (ed25519.PrivateKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	priv, ok := v.keys[identity]
	if !ok {
		return nil, keyvault.ErrNotFound
	}
	return append(ed25519.PrivateKey(nil), priv...), nil
}

func (v *fakeVault) SetCachedSequence(identity string, seq uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cached[identity] = seq
	return nil
}

type fakeGateway struct {
	mu         sync.Mutex
	onChainSeq uint64
	fetchCalls int
	submits    []ledger.SignedEnvelope
	submitFn   func(env ledger.SignedEnvelope) ledger.Outcome
}

func (g *fakeGateway) FetchAccount(ctx context.Context, address string) (ledger.AccountState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	return ledger.AccountState{Address: address, Sequence: g.onChainSeq}, nil
}

func (g *fakeGateway) Submit(ctx context.Context, env ledger.SignedEnvelope) ledger.Outcome {
	g.mu.Lock()
	g.submits = append(g.submits, env)
	g.mu.Unlock()
	return g.submitFn(env)
}

func (g *fakeGateway) NetworkPassphrase() string { return "lumenpay test" }

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submits)
}

func accept(env ledger.SignedEnvelope) ledger.Outcome {
	return ledger.Outcome{Status: ledger.OutcomeAccepted, Hash: "h1", Ledger: 12}
}

func newTestOrchestrator(vault KeyStore, gw Gateway) (*Orchestrator, *sequence.Counter) {
	counter := sequence.NewCounter(nil)
	o := New(vault, counter, gw, Options{
		SubmitAttempts: 3,
		BackoffBase:    time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	})
	return o, counter
}

func TestTransferCompletedAdvancesSequence(t *testing.T) {
	vault := newFakeVault(t, "alice", "bob")
	gw := &fakeGateway{onChainSeq: 5, submitFn: accept}
	o, _ := newTestOrchestrator(vault, gw)

	res, err := o.Transfer(context.Background(), "alice", "bob", "10")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !res.Completed() {
		t.Fatalf("expected completed, got %+v", res)
	}
	if res.Sequence != 6 {
		t.Fatalf("expected sequence 6, got %d", res.Sequence)
	}
	if res.Hash != "h1" || res.Ledger != 12 {
		t.Fatalf("ledger result fields missing: %+v", res)
	}
	if vault.cached["alice"] != 6 {
		t.Fatalf("reconciled sequence not persisted: %d", vault.cached["alice"])
	}
	if env := gw.submits[0]; env.Payment.Sequence != 6 || env.Payment.Amount != "10" {
		t.Fatalf("unexpected submitted payment: %+v", env.Payment)
	}
	if !gw.submits[0].Verify(ed25519.PublicKey(vault.accounts["alice"].PublicKey)) {
		t.Fatal("submitted envelope must be signed by source account")
	}
}

func TestTransferRejectedRollsBackSequence(t *testing.T) {
	vault := newFakeVault(t, "alice", "bob")
	rejected := func(env ledger.SignedEnvelope) ledger.Outcome {
		return ledger.Outcome{Status: ledger.OutcomeRejected, Reason: "insufficient balance"}
	}
	gw := &fakeGateway{onChainSeq: 5, submitFn: rejected}
	o, _ := newTestOrchestrator(vault, gw)

	res, err := o.Transfer(context.Background(), "alice", "bob", "10")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.State != StateDeclined || res.Reason != ReasonLedgerRejected {
		t.Fatalf("expected ledger_rejected decline, got %+v", res)
	}
	if gw.submitCount() != 1 {
		t.Fatalf("rejections must not be retried, got %d submits", gw.submitCount())
	}

	// Rollback correctness: the next transfer must reuse sequence 6.
	gw.submitFn = accept
	res2, err := o.Transfer(context.Background(), "alice", "bob", "10")
	if err != nil || !res2.Completed() {
		t.Fatalf("second transfer: res=%+v err=%v", res2, err)
	}
	if res2.Sequence != 6 {
		t.Fatalf("expected rollback to reuse sequence 6, got %d", res2.Sequence)
	}
}

func TestTransferUnreachableAfterBoundedRetries(t *testing.T) {
	vault := newFakeVault(t, "alice", "bob")
	down := func(env ledger.SignedEnvelope) ledger.Outcome {
		return ledger.Outcome{Status: ledger.OutcomeNetworkError, Reason: "timeout", Retryable: true}
	}
	gw := &fakeGateway{onChainSeq: 5, submitFn: down}
	o, _ := newTestOrchestrator(vault, gw)

	res, err := o.Transfer(context.Background(), "alice", "bob", "10")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.State != StateDeclined || res.Reason != ReasonUnreachable {
		t.Fatalf("expected unreachable decline, got %+v", res)
	}
	if gw.submitCount() != 3 {
		t.Fatalf("expected 3 bounded submit attempts, got %d", gw.submitCount())
	}

	// The cached sequence must be restored to its pre-request value.
	gw.submitFn = accept
	res2, _ := o.Transfer(context.Background(), "alice", "bob", "10")
	if res2.Sequence != 6 {
		t.Fatalf("expected restored sequence 6, got %d", res2.Sequence)
	}
}

func TestTransferUnknownAccountTouchesNothing(t *testing.T) {
	vault := newFakeVault(t, "alice")
	gw := &fakeGateway{onChainSeq: 5, submitFn: accept}
	o, counter := newTestOrchestrator(vault, gw)

	res, err := o.Transfer(context.Background(), "alice", "ghost", "10")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.State != StateDeclined || res.Reason != ReasonUnknownAccount {
		t.Fatalf("expected unknown_account decline, got %+v", res)
	}
	if gw.fetchCalls != 0 || gw.submitCount() != 0 {
		t.Fatalf("declined before any ledger traffic; fetch=%d submit=%d", gw.fetchCalls, gw.submitCount())
	}
	if counter.Seeded("alice") {
		t.Fatal("sequence counter must be untouched before reservation")
	}
}

func TestTransferInvalidRequest(t *testing.T) {
	vault := newFakeVault(t, "alice", "bob")
	gw := &fakeGateway{onChainSeq: 5, submitFn: accept}
	o, _ := newTestOrchestrator(vault, gw)

	cases := []struct {
		name, from, to, amount string
	}{
		{"empty from", "", "bob", "10"},
		{"empty to", "alice", "", "10"},
		{"self transfer", "alice", "alice", "10"},
		{"zero amount", "alice", "bob", "0"},
		{"negative amount", "alice", "bob", "-5"},
		{"garbage amount", "alice", "bob", "ten"},
	}
	for _, tc := range cases {
		res, err := o.Transfer(context.Background(), tc.from, tc.to, tc.amount)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.State != StateDeclined || res.Reason != ReasonInvalidRequest {
			t.Fatalf("%s: expected invalid_request, got %+v", tc.name, res)
		}
	}
	if gw.submitCount() != 0 {
		t.Fatalf("invalid requests must not reach the ledger, got %d submits", gw.submitCount())
	}
}

func TestConcurrentTransfersReserveDistinctSequences(t *testing.T) {
	vault := newFakeVault(t, "alice", "bob")
	gw := &fakeGateway{onChainSeq: 5, submitFn: accept}
	o, counter := newTestOrchestrator(vault, gw)
	counter.Seed("alice", 5)

	var wg sync.WaitGroup
	results := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Transfer(context.Background(), "alice", "bob", "10")
			if err != nil {
				t.Errorf("transfer: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	seen := map[uint64]bool{}
	for res := range results {
		if !res.Completed() {
			t.Fatalf("expected completion, got %+v", res)
		}
		seen[res.Sequence] = true
	}
	if !seen[6] || !seen[7] || len(seen) != 2 {
		t.Fatalf("expected reserved set {6,7}, got %v", seen)
	}
}

func TestTransferCancelledStillReleasesReservation(t *testing.T) {
	vault := newFakeVault(t, "alice", "bob")
	ctx, cancel := context.WithCancel(context.Background())
	blocking := func(env ledger.SignedEnvelope) ledger.Outcome {
		cancel()
		return ledger.Outcome{Status: ledger.OutcomeNetworkError, Reason: "timeout", Retryable: true}
	}
	gw := &fakeGateway{onChainSeq: 5, submitFn: blocking}
	o, _ := newTestOrchestrator(vault, gw)

	res, err := o.Transfer(ctx, "alice", "bob", "10")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.State != StateDeclined || res.Reason != ReasonUnreachable {
		t.Fatalf("expected unreachable decline, got %+v", res)
	}

	// Reconciliation ran despite cancellation: sequence 6 is reusable.
	gw.submitFn = accept
	res2, _ := o.Transfer(context.Background(), "alice", "bob", "10")
	if res2.Sequence != 6 {
		t.Fatalf("expected released sequence 6, got %d", res2.Sequence)
	}
}

func TestBalanceSnapshot(t *testing.T) {
	vault := newFakeVault(t, "alice")
	gw := &fakeGateway{onChainSeq: 9, submitFn: accept}
	o, _ := newTestOrchestrator(vault, gw)

	snap, err := o.Balance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if snap.Sequence != 9 || snap.Address != vault.accounts["alice"].Address {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if _, err := o.Balance(context.Background(), "ghost"); err != keyvault.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
