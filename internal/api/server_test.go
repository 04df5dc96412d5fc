package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lumenpay/go-backend/internal/keyvault"
	"lumenpay/go-backend/internal/orchestrator"
	"lumenpay/go-backend/internal/provisioning"
	"lumenpay/go-backend/pkg/models"
)

type fakeProvisioner struct {
	status provisioning.Status
	err    error
	calls  int
}

func (f *fakeProvisioner) Provision(ctx context.Context, identity, category string) (provisioning.Status, error) {
	f.calls++
	return f.status, f.err
}

type fakeTransfers struct {
	result     orchestrator.Result
	err        error
	balance    models.BalanceSnapshot
	balanceErr error
}

func (f *fakeTransfers) Transfer(ctx context.Context, from, to, amount string) (orchestrator.Result, error) {
	return f.result, f.err
}

func (f *fakeTransfers) Balance(ctx context.Context, identity string) (models.BalanceSnapshot, error) {
	return f.balance, f.balanceErr
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestProvisionEndpoint(t *testing.T) {
	prov := &fakeProvisioner{status: provisioning.StatusProvisioned}
	srv := NewServer("", prov, &fakeTransfers{}, nil)

	rec := doRequest(t, srv, http.MethodPost, "/v1/accounts", `{"user_id":"user-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["status"] != "provisioned" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestProvisionEndpointMalformed(t *testing.T) {
	srv := NewServer("", &fakeProvisioner{}, &fakeTransfers{}, nil)
	for _, body := range []string{`{`, `{}`, `{"user_id":"  "}`} {
		rec := doRequest(t, srv, http.MethodPost, "/v1/accounts", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestTransferEndpointOutcomes(t *testing.T) {
	cases := []struct {
		name        string
		result      orchestrator.Result
		wantCode    int
		wantSuccess bool
	}{
		{
			name:        "completed",
			result:      orchestrator.Result{State: orchestrator.StateCompleted, Hash: "h", Sequence: 6},
			wantCode:    http.StatusOK,
			wantSuccess: true,
		},
		{
			name:     "invalid request",
			result:   orchestrator.Result{State: orchestrator.StateDeclined, Reason: orchestrator.ReasonInvalidRequest},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown account",
			result:   orchestrator.Result{State: orchestrator.StateDeclined, Reason: orchestrator.ReasonUnknownAccount},
			wantCode: http.StatusOK,
		},
		{
			name:     "ledger rejected",
			result:   orchestrator.Result{State: orchestrator.StateDeclined, Reason: orchestrator.ReasonLedgerRejected},
			wantCode: http.StatusOK,
		},
		{
			name:     "unreachable",
			result:   orchestrator.Result{State: orchestrator.StateDeclined, Reason: orchestrator.ReasonUnreachable},
			wantCode: http.StatusInternalServerError,
		},
	}
	for _, tc := range cases {
		srv := NewServer("", &fakeProvisioner{}, &fakeTransfers{result: tc.result}, nil)
		rec := doRequest(t, srv, http.MethodPost, "/v1/transfers", `{"from":"a","to":"b","amount":"10"}`)
		if rec.Code != tc.wantCode {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.wantCode, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["success"] != tc.wantSuccess {
			t.Fatalf("%s: expected success=%v, got %v", tc.name, tc.wantSuccess, body["success"])
		}
	}
}

func TestTransferEndpointMalformedBody(t *testing.T) {
	srv := NewServer("", &fakeProvisioner{}, &fakeTransfers{}, nil)
	rec := doRequest(t, srv, http.MethodPost, "/v1/transfers", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBalanceEndpoint(t *testing.T) {
	snap := models.BalanceSnapshot{
		Identity: "user-1",
		Address:  "lp1abc",
		Sequence: 5,
		Balances: []models.Balance{{Asset: "native", Amount: "50"}},
	}
	srv := NewServer("", &fakeProvisioner{}, &fakeTransfers{balance: snap}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/v1/accounts/user-1/balance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("unexpected body: %v", body)
	}

	srv404 := NewServer("", &fakeProvisioner{}, &fakeTransfers{balanceErr: keyvault.ErrNotFound}, nil)
	rec404 := doRequest(t, srv404, http.MethodGet, "/v1/accounts/ghost/balance", "")
	if rec404.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rec404.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := NewServer("", &fakeProvisioner{}, &fakeTransfers{}, nil)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
