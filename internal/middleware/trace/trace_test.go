package trace

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairxpenses/internal/log"
)

func newLogger(buf *bytes.Buffer) *log.Logger {
	return log.New(log.Config{Level: slog.LevelDebug, Format: log.FormatJSON, Output: buf})
}

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := NewMiddleware(newLogger(&buf), func(*http.Request) string { return "198.51.100.1" })

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/payments", nil))

	require.Equal(t, http.StatusCreated, rr.Code)
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rr.Header().Get(HeaderRequestID))
	assert.Contains(t, buf.String(), `"status_code":201`)
	assert.Contains(t, buf.String(), `"client_ip":"198.51.100.1"`)
	assert.Equal(t, Stats{TotalRequests: 1, InFlight: 0}, m.Stats())
}

func TestMiddlewareKeepsCallerRequestID(t *testing.T) {
	m := NewMiddleware(nil, nil)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, strings.Repeat("x", 100))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.NotEqual(t, strings.Repeat("x", 100), rr.Header().Get(HeaderRequestID))
}

func TestServerErrorsLoggedAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	m := NewMiddleware(newLogger(&buf), nil)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	sr := NewStatusRecorder(rr)
	assert.Same(t, sr, NewStatusRecorder(sr))

	_, _ = sr.Write([]byte("ok"))
	sr.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusOK, sr.Status(), "the first write fixes the status")
}
