// Package api is the HTTP boundary. It decodes requests, hands them to the
// provisioning worker and the orchestrator with already-validated parameters,
// and serializes their definite outcomes. No business rules live here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lumenpay/go-backend/internal/keyvault"
	"lumenpay/go-backend/internal/orchestrator"
	"lumenpay/go-backend/internal/provisioning"
	"lumenpay/go-backend/pkg/models"
)

type ProvisioningService interface {
	Provision(ctx context.Context, identity, category string) (provisioning.Status, error)
}

type TransferService interface {
	Transfer(ctx context.Context, from, to, amount string) (orchestrator.Result, error)
	Balance(ctx context.Context, identity string) (models.BalanceSnapshot, error)
}

type Server struct {
	addr        string
	provisioner ProvisioningService
	transfers   TransferService
	logger      *slog.Logger
	httpSrv     *http.Server
}

func NewServer(addr string, provisioner ProvisioningService, transfers TransferService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:        addr,
		provisioner: provisioner,
		transfers:   transfers,
		logger:      logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/accounts", s.handleProvision)
	mux.HandleFunc("POST /v1/transfers", s.handleTransfer)
	mux.HandleFunc("GET /v1/accounts/{user_id}/balance", s.handleBalance)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	s.logger.Info("wallet daemon listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type provisionRequest struct {
	UserID   string `json:"user_id"`
	Category string `json:"category"`
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "reason": "user_id is required"})
		return
	}
	status, err := s.provisioner.Provision(r.Context(), req.UserID, req.Category)
	if err != nil {
		s.logger.Error("provisioning request failed", slog.String("identity", req.UserID), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "reason": "provisioning failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status.String()})
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "reason": "malformed request body"})
		return
	}
	res, err := s.transfers.Transfer(r.Context(), req.From, req.To, req.Amount)
	if err != nil {
		s.logger.Error("transfer request failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "reason": "internal error"})
		return
	}
	if res.Completed() {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"hash":     res.Hash,
			"ledger":   res.Ledger,
			"sequence": res.Sequence,
		})
		return
	}
	body := map[string]any{"success": false, "reason": string(res.Reason), "detail": res.Detail}
	switch res.Reason {
	case orchestrator.ReasonInvalidRequest:
		writeJSON(w, http.StatusBadRequest, body)
	case orchestrator.ReasonUnreachable:
		writeJSON(w, http.StatusInternalServerError, body)
	default:
		// Definite declines (unknown account, ledger rejection) are valid
		// outcomes, not transport failures.
		writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	snap, err := s.transfers.Balance(r.Context(), userID)
	if errors.Is(err, keyvault.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "reason": "unknown account"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "reason": "ledger unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "balance": snap})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
