package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairxpenses/internal/core"
	"pairxpenses/internal/metrics"
	"pairxpenses/internal/services"
	"pairxpenses/internal/storage"
	"pairxpenses/internal/storage/memory"
)

type brokenStore struct {
	*memory.Store
}

func (brokenStore) Snapshot(context.Context) (core.PairSnapshot, error) {
	return core.PairSnapshot{}, errors.New("database is locked")
}

func (brokenStore) Ping(context.Context) error { return errors.New("database is locked") }

type serverOption func(*Options)

func withRateLimit(n int) serverOption {
	return func(o *Options) { o.RateLimitPerMinute = n }
}

func newTestServer(t *testing.T, store storage.LedgerStore, opts ...serverOption) *Server {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	m := metrics.New()
	o := Options{
		Ledger:             services.NewLedgerService(services.Dependencies{Store: store, Metrics: m}),
		Metrics:            m,
		DefaultPercentageA: 50,
		RateLimitPerMinute: 1000,
	}
	for _, opt := range opts {
		opt(&o)
	}
	srv := NewServer(":0", o)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}

	broken := newTestServer(t, brokenStore{memory.New()})
	rr := do(t, broken, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"not_ready"`)
}

func TestResponsesCarryHeaders(t *testing.T) {
	srv := newTestServer(t, nil)
	rr := do(t, srv, http.MethodGet, "/api/users", "")

	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestUsers(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := do(t, srv, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rr.Code)
	users := decode[[]userJSON](t, rr)
	require.Len(t, users, 2)
	assert.Equal(t, "A", users[0].Party)
	assert.Equal(t, "B", users[1].Party)

	rr = do(t, srv, http.MethodPatch, "/api/users/1", `{"name": "Ana"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Ana", decode[userJSON](t, rr).Name)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown user", "/api/users/9", `{"name": "X"}`, http.StatusNotFound},
		{"blank name", "/api/users/1", `{"name": "  "}`, http.StatusUnprocessableEntity},
		{"malformed json", "/api/users/1", `{"name":`, http.StatusBadRequest},
		{"bad id", "/api/users/abc", `{"name": "X"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPatch, tt.path, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Contains(t, rr.Body.String(), `"error"`)
		})
	}
}

func TestEntryLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := do(t, srv, http.MethodPost, "/api/payments", `{"userId": 1, "name": "Groceries", "value": "1.500"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[entryJSON](t, rr)
	assert.Equal(t, int64(1500), created.Value)
	assert.Equal(t, "payment", created.Kind)
	assert.Equal(t, "/api/payments/1", rr.Header().Get("Location"))

	rr = do(t, srv, http.MethodPost, "/api/payments", `{"userId": 1, "name": "Rent", "value": 500}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, srv, http.MethodGet, "/api/payments/user/1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]entryJSON](t, rr), 2)

	rr = do(t, srv, http.MethodGet, "/api/payments/total/1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, totalJSON{UserID: 1, Kind: "payment", Total: 2000}, decode[totalJSON](t, rr))

	rr = do(t, srv, http.MethodPatch, "/api/payments/1", `{"name": "Groceries (week)", "value": 1200}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(1200), decode[entryJSON](t, rr).Value)

	rr = do(t, srv, http.MethodPatch, "/api/debts/1", `{"name": "x", "value": 1}`)
	assert.Equal(t, http.StatusNotFound, rr.Code, "ids are scoped by kind")

	rr = do(t, srv, http.MethodDelete, "/api/payments/1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, srv, http.MethodDelete, "/api/payments/1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, srv, http.MethodDelete, "/api/payments", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]int64{"deleted": 1}, decode[map[string]int64](t, rr))
}

func TestCreateEntryValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"negative value", "/api/debts", `{"userId": 2, "name": "Loan", "value": -10}`, http.StatusUnprocessableEntity},
		{"fractional value", "/api/debts", `{"userId": 2, "name": "Loan", "value": "10.5"}`, http.StatusUnprocessableEntity},
		{"missing name", "/api/debts", `{"userId": 2, "value": 10}`, http.StatusUnprocessableEntity},
		{"unknown user", "/api/debts", `{"userId": 7, "name": "Loan", "value": 10}`, http.StatusNotFound},
		{"unknown field", "/api/debts", `{"userId": 2, "name": "Loan", "value": 10, "kind": "payment"}`, http.StatusBadRequest},
		{"unknown kind", "/api/loans", `{"userId": 2, "name": "Loan", "value": 10}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}
}

func TestOverview(t *testing.T) {
	srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/api/payments", `{"userId": 2, "name": "Dinner", "value": 300}`)
	do(t, srv, http.MethodPost, "/api/debts", `{"userId": 1, "name": "Loan", "value": 100}`)

	rr := do(t, srv, http.MethodGet, "/api/overview", "")
	require.Equal(t, http.StatusOK, rr.Code)
	ov := decode[overviewJSON](t, rr)
	require.Len(t, ov.Users, 2)
	assert.Equal(t, "A", ov.Users[0].User.Party)
	assert.Equal(t, int64(100), ov.Users[0].TotalDebts)
	assert.Empty(t, ov.Users[0].Payments)
	assert.Equal(t, int64(300), ov.Users[1].TotalPayments)
}

func TestReport(t *testing.T) {
	srv := newTestServer(t, nil)
	do(t, srv, http.MethodPatch, "/api/users/1", `{"name": "Ana"}`)
	do(t, srv, http.MethodPatch, "/api/users/2", `{"name": "Beto"}`)
	do(t, srv, http.MethodPost, "/api/payments", `{"userId": 1, "name": "Rent", "value": 1000}`)

	rr := do(t, srv, http.MethodPost, "/api/report", `{"percentageA": 50}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rep := decode[reportJSON](t, rr)

	assert.False(t, rep.Empty)
	assert.Len(t, rep.Lines, 5)
	require.NotNil(t, rep.Payer)
	assert.Equal(t, "B", *rep.Payer)
	assert.Equal(t, int64(500), rep.Amount)
	assert.Contains(t, rep.Summary, "Beto")
	require.NotNil(t, rep.Breakdown)
	assert.Equal(t, breakdownJSON{TotalExpense: 1000, ShareA: 500, ShareB: 500, Branch: "a_overspent", Surplus: 500}, *rep.Breakdown)

	// no body falls back to the configured split
	rr = do(t, srv, http.MethodPost, "/api/report", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 50, decode[reportJSON](t, rr).PercentageA)
}

func TestReportEmptyAndErrors(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := do(t, srv, http.MethodPost, "/api/report", `{"percentageA": 40}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"empty": true}`, rr.Body.String())

	rr = do(t, srv, http.MethodPost, "/api/report", `{"percentageA": 101}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	broken := newTestServer(t, brokenStore{memory.New()})
	rr = do(t, broken, http.MethodPost, "/api/report", `{"percentageA": 50}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "locked", "store detail stays in the logs")
}

func TestSettlement(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := do(t, srv, http.MethodPost, "/api/settlement",
		`{"paymentsA": 0, "paymentsB": 900, "debtsA": 50, "debtsB": 0, "percentageA": 30, "nameA": "Ana", "nameB": "Beto"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rep := decode[reportJSON](t, rr)
	require.NotNil(t, rep.Payer)
	assert.Equal(t, "A", *rep.Payer)
	assert.Equal(t, int64(320), rep.Amount)
	assert.Equal(t, int64(270), rep.Breakdown.ShareA)
	assert.Equal(t, int64(630), rep.Breakdown.ShareB)
	assert.Equal(t, "b_overspent", rep.Breakdown.Branch)

	rr = do(t, srv, http.MethodPost, "/api/settlement", `{"paymentsA": 0, "paymentsB": 0, "debtsA": 0, "debtsB": 0}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"empty": true}`, rr.Body.String())

	rr = do(t, srv, http.MethodPost, "/api/settlement", `{"paymentsA": -1, "paymentsB": 0, "debtsA": 0, "debtsB": 0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, srv, http.MethodPost, "/api/settlement", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResetPeriod(t *testing.T) {
	srv := newTestServer(t, nil)
	do(t, srv, http.MethodPost, "/api/payments", `{"userId": 1, "name": "Rent", "value": 1000}`)
	do(t, srv, http.MethodPost, "/api/debts", `{"userId": 2, "name": "Loan", "value": 10}`)

	rr := do(t, srv, http.MethodPost, "/api/period/reset", "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, srv, http.MethodPost, "/api/report", "")
	assert.JSONEq(t, `{"empty": true}`, rr.Body.String())
}

func TestRateLimitAppliesToMutationsOnly(t *testing.T) {
	srv := newTestServer(t, nil, withRateLimit(2))

	for i := 0; i < 2; i++ {
		rr := do(t, srv, http.MethodPost, "/api/debts", `{"userId": 1, "name": "Loan", "value": 1}`)
		require.Equal(t, http.StatusCreated, rr.Code)
	}
	rr := do(t, srv, http.MethodPost, "/api/debts", `{"userId": 1, "name": "Loan", "value": 1}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	rr = do(t, srv, http.MethodGet, "/api/debts/user/1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	do(t, srv, http.MethodGet, "/api/users", "")

	rr := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `pairxpenses_http_requests_total{method="GET",route="/api/users",status="200"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil)
	rr := do(t, srv, http.MethodPut, "/api/users", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
