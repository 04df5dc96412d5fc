// Package orchestrator drives a payment request from validation through
// signing, submission and sequence reconciliation. Every request terminates
// as Completed or Declined; there is no unknown terminal state.
package orchestrator

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"lumenpay/go-backend/internal/keyvault"
	"lumenpay/go-backend/internal/ledger"
	"lumenpay/go-backend/internal/sequence"
	"lumenpay/go-backend/pkg/models"
)

type State int

const (
	StateCompleted State = iota
	StateDeclined
)

func (s State) String() string {
	if s == StateCompleted {
		return "completed"
	}
	return "declined"
}

type Reason string

const (
	ReasonInvalidRequest Reason = "invalid_request"
	ReasonUnknownAccount Reason = "unknown_account"
	ReasonLedgerRejected Reason = "ledger_rejected"
	ReasonUnreachable    Reason = "unreachable"
)

// Result is the definite terminal outcome of one transfer request.
type Result struct {
	State    State
	Reason   Reason
	Detail   string
	Hash     string
	Ledger   uint64
	Sequence uint64
}

func (r Result) Completed() bool {
	return r.State == StateCompleted
}

// KeyStore is the slice of the vault the orchestrator needs. Secret material
// crosses this boundary only through SigningKey, only for the signing step.
type KeyStore interface {
	GetAccount(identity string) (models.Account, error)
	SigningKey(identity string) (ed25519.PrivateKey, error)
	SetCachedSequence(identity string, sequence uint64) error
}

// Gateway is the ledger network surface the orchestrator submits through.
type Gateway interface {
	FetchAccount(ctx context.Context, address string) (ledger.AccountState, error)
	Submit(ctx context.Context, env ledger.SignedEnvelope) ledger.Outcome
	NetworkPassphrase() string
}

type Options struct {
	BaseFee        uint32
	SubmitAttempts uint
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	Logger         *slog.Logger
	Metrics        *Metrics
}

type Orchestrator struct {
	vault    KeyStore
	counter  *sequence.Counter
	gateway  Gateway
	baseFee  uint32
	attempts uint
	backoff  time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
	metrics  *Metrics
}

func New(vault KeyStore, counter *sequence.Counter, gateway Gateway, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := opts.SubmitAttempts
	if attempts == 0 {
		attempts = 3
	}
	backoff := opts.BackoffBase
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	maxWait := opts.BackoffMax
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	baseFee := opts.BaseFee
	if baseFee == 0 {
		baseFee = 100
	}
	return &Orchestrator{
		vault:    vault,
		counter:  counter,
		gateway:  gateway,
		baseFee:  baseFee,
		attempts: attempts,
		backoff:  backoff,
		maxWait:  maxWait,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// Transfer moves amount from one custodial identity to another. Declines come
// back as a Result, never an error; the error return is reserved for
// structural failures (vault corruption, malformed key material) and is fatal
// for this request only.
func (o *Orchestrator) Transfer(ctx context.Context, from, to, amount string) (Result, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	logger := o.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("from", from),
		slog.String("to", to),
	)

	// Validate.
	if from == "" || to == "" {
		return o.declined(logger, ReasonInvalidRequest, "from and to are required"), nil
	}
	if from == to {
		return o.declined(logger, ReasonInvalidRequest, "from and to must differ"), nil
	}
	if err := ledger.ValidateAmount(amount); err != nil {
		return o.declined(logger, ReasonInvalidRequest, "amount must be a positive decimal"), nil
	}

	// ResolveKeys.
	src, err := o.vault.GetAccount(from)
	if errors.Is(err, keyvault.ErrNotFound) {
		return o.declined(logger, ReasonUnknownAccount, "source account is not provisioned"), nil
	}
	if err != nil {
		return Result{}, err
	}
	dst, err := o.vault.GetAccount(to)
	if errors.Is(err, keyvault.ErrNotFound) {
		return o.declined(logger, ReasonUnknownAccount, "destination account is not provisioned"), nil
	}
	if err != nil {
		return Result{}, err
	}

	// The counter must hold the on-ledger sequence before the first
	// reservation for this account. Fetching happens outside any counter
	// lock; Seed is first-wins so a concurrent double-fetch is harmless.
	if !o.counter.Seeded(from) {
		state, err := o.gateway.FetchAccount(ctx, src.Address)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return o.declined(logger, ReasonLedgerRejected, "source account does not exist on ledger"), nil
		}
		if err != nil {
			return o.declined(logger, ReasonUnreachable, "ledger unreachable while syncing sequence"), nil
		}
		o.counter.Seed(from, state.Sequence)
	}

	// ReserveSequence. From here on, exactly one of Confirm/Release must run
	// on every exit path; the deferred release covers panics and early
	// returns, and is not cancellable.
	res, err := o.counter.ReserveNext(from)
	if err != nil {
		return Result{}, err
	}
	settled := false
	defer func() {
		if !settled {
			o.counter.Release(res)
			o.metrics.recordRollback()
		}
	}()

	// BuildAndSign.
	intent := ledger.Payment{
		Network:     o.gateway.NetworkPassphrase(),
		Source:      src.Address,
		Sequence:    res.Value,
		Destination: dst.Address,
		Amount:      amount,
		Fee:         o.baseFee,
	}
	priv, err := o.vault.SigningKey(from)
	if err != nil {
		return Result{}, err
	}
	env, err := ledger.SignPayment(intent, priv)
	zeroKey(priv)
	if err != nil {
		return Result{}, err
	}

	// Submit with bounded retries, then reconcile.
	out := o.submitWithRetry(ctx, env)
	switch out.Status {
	case ledger.OutcomeAccepted:
		o.counter.Confirm(res)
		settled = true
		if err := o.vault.SetCachedSequence(from, res.Value); err != nil {
			logger.Warn("failed to persist reconciled sequence", slog.Uint64("sequence", res.Value), slog.Any("error", err))
		}
		o.metrics.recordTransfer("completed")
		logger.Info("transfer completed", slog.Uint64("sequence", res.Value), slog.String("hash", out.Hash))
		return Result{
			State:    StateCompleted,
			Hash:     out.Hash,
			Ledger:   out.Ledger,
			Sequence: res.Value,
		}, nil
	case ledger.OutcomeRejected:
		o.counter.Release(res)
		o.metrics.recordRollback()
		settled = true
		return o.declined(logger, ReasonLedgerRejected, out.Reason), nil
	default:
		o.counter.Release(res)
		o.metrics.recordRollback()
		settled = true
		return o.declined(logger, ReasonUnreachable, out.Reason), nil
	}
}

// Balance returns the on-ledger snapshot for a provisioned identity.
func (o *Orchestrator) Balance(ctx context.Context, identity string) (models.BalanceSnapshot, error) {
	acct, err := o.vault.GetAccount(identity)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	state, err := o.gateway.FetchAccount(ctx, acct.Address)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	return models.BalanceSnapshot{
		Identity: acct.Identity,
		Address:  acct.Address,
		Sequence: state.Sequence,
		Balances: state.Balances,
	}, nil
}

func (o *Orchestrator) submitWithRetry(ctx context.Context, env ledger.SignedEnvelope) ledger.Outcome {
	var out ledger.Outcome
	start := time.Now()
	err := retry.Do(
		func() error {
			out = o.gateway.Submit(ctx, env)
			if out.Status == ledger.OutcomeNetworkError && out.Retryable {
				return fmt.Errorf("ledger unreachable: %s", out.Reason)
			}
			return nil
		},
		retry.Attempts(o.attempts),
		retry.Delay(o.backoff),
		retry.MaxDelay(o.maxWait),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	o.metrics.observeSubmit(time.Since(start))
	if err != nil && out.Status != ledger.OutcomeNetworkError {
		// Context cancelled before the first attempt produced an outcome.
		out = ledger.Outcome{Status: ledger.OutcomeNetworkError, Reason: err.Error(), Retryable: true}
	}
	return out
}

func (o *Orchestrator) declined(logger *slog.Logger, reason Reason, detail string) Result {
	o.metrics.recordTransfer(string(reason))
	logger.Info("transfer declined", slog.String("reason", string(reason)), slog.String("detail", detail))
	return Result{State: StateDeclined, Reason: reason, Detail: detail}
}

func zeroKey(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
