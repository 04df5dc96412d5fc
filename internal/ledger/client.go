// Package ledger is the stateless client for the external append-only ledger
// network. Expected operational failures never escape as raw errors from
// Submit; they are classified into typed outcomes the orchestrator can act on.
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lumenpay/go-backend/internal/platform/ratelimiter"
	"lumenpay/go-backend/pkg/models"
)

var (
	ErrAccountNotFound = errors.New("account does not exist on ledger")
	ErrFaucetThrottled = errors.New("faucet funding throttled")
	ErrFaucetFailed    = errors.New("faucet funding failed")
)

type OutcomeStatus int

const (
	OutcomeAccepted OutcomeStatus = iota
	OutcomeRejected
	OutcomeNetworkError
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	default:
		return "network_error"
	}
}

// Outcome is the classified result of a submission. Rejected means the ledger
// refused the transaction; NetworkError means the ledger's verdict is unknown
// and the same envelope may be retried.
type Outcome struct {
	Status    OutcomeStatus
	Hash      string
	Ledger    uint64
	Reason    string
	Retryable bool
}

type AccountState struct {
	Address  string
	Sequence uint64
	Balances []models.Balance
}

type Options struct {
	HorizonURL        string
	FaucetURL         string
	NetworkPassphrase string
	Timeout           time.Duration
	FaucetRPS         float64
	FaucetBurst       int
	Logger            *slog.Logger
}

// Client is safe to share across concurrent orchestrations; it holds no
// per-request state.
type Client struct {
	horizonURL string
	faucetURL  string
	network    string
	timeout    time.Duration
	httpc      *http.Client
	faucet     *ratelimiter.MapLimiter
	logger     *slog.Logger
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		horizonURL: strings.TrimRight(opts.HorizonURL, "/"),
		faucetURL:  strings.TrimRight(opts.FaucetURL, "/"),
		network:    opts.NetworkPassphrase,
		timeout:    timeout,
		httpc:      &http.Client{},
		faucet:     ratelimiter.New(opts.FaucetRPS, opts.FaucetBurst, 10*time.Minute),
		logger:     logger,
	}
}

// NetworkPassphrase identifies the ledger network payments are bound to.
func (c *Client) NetworkPassphrase() string {
	return c.network
}

type accountResponse struct {
	Address  string           `json:"address"`
	Sequence uint64           `json:"sequence"`
	Balances []models.Balance `json:"balances"`
}

// FetchAccount returns the on-chain state for an address. An absent account
// and an unreachable ledger are distinct errors.
func (c *Client) FetchAccount(ctx context.Context, address string) (AccountState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.horizonURL+"/accounts/"+url.PathEscape(address), nil)
	if err != nil {
		return AccountState{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return AccountState{}, fmt.Errorf("fetch account: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return AccountState{}, ErrAccountNotFound
	case resp.StatusCode != http.StatusOK:
		return AccountState{}, fmt.Errorf("fetch account: unexpected status %d", resp.StatusCode)
	}

	var parsed accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return AccountState{}, fmt.Errorf("fetch account: %w", err)
	}
	return AccountState{
		Address:  parsed.Address,
		Sequence: parsed.Sequence,
		Balances: parsed.Balances,
	}, nil
}

type submitRequest struct {
	Tx string `json:"tx"`
}

type submitResponse struct {
	Hash   string `json:"hash"`
	Ledger uint64 `json:"ledger"`
	Reason string `json:"reason"`
}

// Submit posts a signed envelope and classifies the response. Timeouts,
// connection failures and 5xx answers are retryable network errors; definite
// 4xx refusals are rejections and must release the sequence reservation.
func (c *Client) Submit(ctx context.Context, env SignedEnvelope) Outcome {
	raw, err := json.Marshal(env)
	if err != nil {
		return Outcome{Status: OutcomeRejected, Reason: "malformed envelope"}
	}
	body, err := json.Marshal(submitRequest{Tx: base64.StdEncoding.EncodeToString(raw)})
	if err != nil {
		return Outcome{Status: OutcomeRejected, Reason: "malformed envelope"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.horizonURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return Outcome{Status: OutcomeRejected, Reason: "malformed request"}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Outcome{Status: OutcomeNetworkError, Reason: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	var parsed submitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil && resp.StatusCode == http.StatusOK {
		// Accepted but unreadable body: verdict unknown, treat as retryable.
		return Outcome{Status: OutcomeNetworkError, Reason: "unreadable ledger response", Retryable: true}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return Outcome{Status: OutcomeAccepted, Hash: parsed.Hash, Ledger: parsed.Ledger}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Outcome{
			Status:    OutcomeNetworkError,
			Reason:    reasonOrStatus(parsed.Reason, resp.StatusCode),
			Retryable: true,
		}
	default:
		return Outcome{Status: OutcomeRejected, Reason: reasonOrStatus(parsed.Reason, resp.StatusCode)}
	}
}

// FundAccount asks the sandbox faucet to create and fund an address. Funding
// is rate limited per address so a stuck provisioning retry loop cannot
// hammer the faucet.
func (c *Client) FundAccount(ctx context.Context, address string) error {
	if c.faucetURL == "" {
		return ErrFaucetFailed
	}
	if !c.faucet.Allow(address, time.Now()) {
		return ErrFaucetThrottled
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.faucetURL+"?addr="+url.QueryEscape(address), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFaucetFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrFaucetFailed, resp.StatusCode)
	}
	c.logger.Info("faucet funding requested", slog.String("address", address))
	return nil
}

func reasonOrStatus(reason string, status int) string {
	if strings.TrimSpace(reason) != "" {
		return reason
	}
	return fmt.Sprintf("status %d", status)
}
