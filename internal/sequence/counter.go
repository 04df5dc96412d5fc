// Package sequence serializes ledger sequence numbers per account. The ledger
// rejects stale or skipped numbers, so the cached counter is the single source
// of truth for the next number to try and is advanced optimistically before
// any network round-trip.
package sequence

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrIdentityRequired = errors.New("identity is required")

// Reservation is a claim on one sequence number. It must be settled exactly
// once, via Confirm or Release.
type Reservation struct {
	ID       string
	Identity string
	Value    uint64
}

type Counter struct {
	mu         sync.Mutex
	byIdentity map[string]*accountCounter
	logger     *slog.Logger
}

// accountCounter holds the cached last-used sequence for one account. Its own
// mutex keeps the lock scope per account; slow traffic on one account never
// stalls reservations on another.
type accountCounter struct {
	mu      sync.Mutex
	seeded  bool
	current uint64
}

func NewCounter(logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{
		byIdentity: make(map[string]*accountCounter),
		logger:     logger,
	}
}

// Seed installs the ledger-observed sequence for an account that has no cached
// entry yet. The first seed wins; later calls are no-ops so a concurrent
// double-fetch cannot move the counter backwards.
func (c *Counter) Seed(identity string, onChain uint64) {
	ac := c.account(identity)
	if ac == nil {
		return
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.seeded {
		return
	}
	ac.seeded = true
	ac.current = onChain
}

// Seeded reports whether the account has a cached counter entry.
func (c *Counter) Seeded(identity string) bool {
	ac := c.account(identity)
	if ac == nil {
		return false
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.seeded
}

// ReserveNext atomically advances the cached counter and returns a reservation
// carrying the next usable sequence number. Linearizable per identity: two
// concurrent calls never see the same value. The lock covers only the
// increment, never network I/O.
func (c *Counter) ReserveNext(identity string) (Reservation, error) {
	ac := c.account(identity)
	if ac == nil {
		return Reservation{}, ErrIdentityRequired
	}
	ac.mu.Lock()
	ac.current++
	value := ac.current
	ac.mu.Unlock()
	return Reservation{
		ID:       uuid.NewString(),
		Identity: strings.TrimSpace(identity),
		Value:    value,
	}, nil
}

// Confirm marks the reservation's number as consumed on-ledger. The increment
// already happened in ReserveNext, so this is the success-path marker only.
func (c *Counter) Confirm(r Reservation) {
	c.logger.Debug("sequence confirmed",
		slog.String("identity", r.Identity),
		slog.String("reservation_id", r.ID),
		slog.Uint64("sequence", r.Value),
	)
}

// Release rolls the counter back to the pre-reservation value, but only when
// the reservation is still the most recent one for its account. A superseding
// reservation means the number is no longer reusable; in that case the counter
// is left untouched and the inconsistency is logged.
func (c *Counter) Release(r Reservation) {
	ac := c.account(r.Identity)
	if ac == nil {
		return
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.current == r.Value {
		ac.current = r.Value - 1
		return
	}
	c.logger.Warn("sequence release superseded, leaving counter untouched",
		slog.String("identity", r.Identity),
		slog.String("reservation_id", r.ID),
		slog.Uint64("released", r.Value),
		slog.Uint64("current", ac.current),
	)
}

func (c *Counter) account(identity string) *accountCounter {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ac, ok := c.byIdentity[identity]
	if !ok {
		ac = &accountCounter{}
		c.byIdentity[identity] = ac
	}
	return ac
}
