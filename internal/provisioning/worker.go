// Package provisioning reacts to new-identity events: it creates the
// custodial account, funds it through the sandbox faucet, and optionally
// seeds it with a configured benefit transfer once the account exists
// on-ledger.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"lumenpay/go-backend/internal/keyvault"
	"lumenpay/go-backend/internal/ledger"
	"lumenpay/go-backend/internal/orchestrator"
	"lumenpay/go-backend/pkg/models"
)

var (
	ErrFundingNotLanded     = errors.New("funded account did not appear on ledger")
	ErrSeedTransferDeclined = errors.New("seed transfer was declined")
)

type Status int

const (
	StatusProvisioned Status = iota
	StatusAlreadyProvisioned
)

func (s Status) String() string {
	if s == StatusAlreadyProvisioned {
		return "already_provisioned"
	}
	return "provisioned"
}

// IdentityEvent is one entry of the identity store's creation stream.
type IdentityEvent struct {
	Identity string
	Category string
}

type Vault interface {
	CreateAccount(identity string) (models.Account, error)
	GetAccount(identity string) (models.Account, error)
}

type Funder interface {
	FundAccount(ctx context.Context, address string) error
	FetchAccount(ctx context.Context, address string) (ledger.AccountState, error)
}

type Transferer interface {
	Transfer(ctx context.Context, from, to, amount string) (orchestrator.Result, error)
}

type Options struct {
	// FundingAccount is the custodial identity benefits are paid from.
	// Leave empty to disable seed transfers.
	FundingAccount string
	// Benefits maps an identity category to the seed amount it receives.
	Benefits     map[string]string
	WaitAttempts uint
	WaitInterval time.Duration
	Logger       *slog.Logger
	Metrics      *Metrics
}

type Worker struct {
	vault          Vault
	funder         Funder
	transfers      Transferer
	fundingAccount string
	benefits       map[string]string
	waitAttempts   uint
	waitInterval   time.Duration
	logger         *slog.Logger
	metrics        *Metrics
}

func NewWorker(vault Vault, funder Funder, transfers Transferer, opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	waitAttempts := opts.WaitAttempts
	if waitAttempts == 0 {
		waitAttempts = 5
	}
	waitInterval := opts.WaitInterval
	if waitInterval <= 0 {
		waitInterval = 500 * time.Millisecond
	}
	return &Worker{
		vault:          vault,
		funder:         funder,
		transfers:      transfers,
		fundingAccount: strings.TrimSpace(opts.FundingAccount),
		benefits:       opts.Benefits,
		waitAttempts:   waitAttempts,
		waitInterval:   waitInterval,
		logger:         logger,
		metrics:        opts.Metrics,
	}
}

// Run drains the identity event stream until the context ends or the channel
// closes. Provisioning failures are logged and counted, never fatal to the
// loop.
func (w *Worker) Run(ctx context.Context, events <-chan IdentityEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			status, err := w.Provision(ctx, ev.Identity, ev.Category)
			if err != nil {
				w.metrics.record("failed")
				w.logger.Error("provisioning failed",
					slog.String("identity", ev.Identity),
					slog.Any("error", err),
				)
				continue
			}
			w.metrics.record(status.String())
		}
	}
}

// Provision is idempotent at the identity level: a second call for an
// existing identity reports AlreadyProvisioned and performs no network
// funding call.
func (w *Worker) Provision(ctx context.Context, identity, category string) (Status, error) {
	acct, err := w.vault.CreateAccount(identity)
	if errors.Is(err, keyvault.ErrAlreadyExists) {
		w.logger.Info("identity already provisioned", slog.String("identity", identity))
		return StatusAlreadyProvisioned, nil
	}
	if err != nil {
		return 0, err
	}

	if err := w.funder.FundAccount(ctx, acct.Address); err != nil {
		return 0, fmt.Errorf("fund %s: %w", identity, err)
	}

	benefit, hasBenefit := w.benefits[category]
	if w.fundingAccount == "" || !hasBenefit {
		return StatusProvisioned, nil
	}

	// The ledger requires both accounts to exist before either side of a
	// payment can reference them, so the seed transfer waits for funding to
	// land.
	if err := w.waitForAccount(ctx, acct.Address); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFundingNotLanded, err)
	}
	funding, err := w.vault.GetAccount(w.fundingAccount)
	if err != nil {
		return 0, fmt.Errorf("funding account %s: %w", w.fundingAccount, err)
	}
	if err := w.waitForAccount(ctx, funding.Address); err != nil {
		return 0, fmt.Errorf("funding account %w: %v", ErrFundingNotLanded, err)
	}

	res, err := w.transfers.Transfer(ctx, w.fundingAccount, identity, benefit)
	if err != nil {
		return 0, err
	}
	if !res.Completed() {
		return 0, fmt.Errorf("%w: %s (%s)", ErrSeedTransferDeclined, res.Reason, res.Detail)
	}
	w.logger.Info("identity provisioned with seed transfer",
		slog.String("identity", identity),
		slog.String("amount", benefit),
	)
	return StatusProvisioned, nil
}

func (w *Worker) waitForAccount(ctx context.Context, address string) error {
	return retry.Do(
		func() error {
			_, err := w.funder.FetchAccount(ctx, address)
			return err
		},
		retry.Attempts(w.waitAttempts),
		retry.Delay(w.waitInterval),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}
