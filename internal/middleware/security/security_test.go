package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.Empty(t, rr.Header().Get("Strict-Transport-Security"), "no HSTS over plain HTTP")

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.TLS = &tls.ConnectionState{}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "max-age=31536000; includeSubDomains", rr.Header().Get("Strict-Transport-Security"))
}

func TestEmptyHeaderValuesAreSkipped(t *testing.T) {
	cfg := DefaultHeadersConfig()
	cfg.CacheControl = ""
	h := NewHeadersMiddleware(cfg).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	_, present := rr.Header()["Cache-Control"]
	assert.False(t, present)
}

func TestClientIP(t *testing.T) {
	c := NewClientIPResolver()

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"direct", "203.0.113.9:5555", nil, "203.0.113.9"},
		{"untrusted peer ignores xff", "203.0.113.9:5555", map[string]string{"X-Forwarded-For": "1.1.1.1"}, "203.0.113.9"},
		{"loopback proxy xff", "127.0.0.1:80", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.2"}, "198.51.100.7"},
		{"ipv6 loopback proxy xff", "[::1]:80", map[string]string{"X-Forwarded-For": "198.51.100.6"}, "198.51.100.6"},
		{"lan peer is not a proxy by default", "10.0.0.2:80", map[string]string{"X-Forwarded-For": "198.51.100.7"}, "10.0.0.2"},
		{"private range peer cannot pick its key", "192.168.1.20:80", map[string]string{"X-Real-IP": "198.51.100.9"}, "192.168.1.20"},
		{"trusted proxy real ip", "127.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.8"}, "198.51.100.8"},
		{"invalid forwarded value", "127.0.0.1:80", map[string]string{"X-Forwarded-For": "garbage"}, "127.0.0.1"},
		{"no port", "198.51.100.1", nil, "198.51.100.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, c.ClientIP(r))
		})
	}
}

func TestAddTrustedProxy(t *testing.T) {
	c := NewClientIPResolver()
	require.Error(t, c.AddTrustedProxy("nope"))
	require.NoError(t, c.AddTrustedProxy("203.0.113.0/24"))
	require.NoError(t, c.AddTrustedProxy("10.0.0.0/8"))

	lan := httptest.NewRequest(http.MethodGet, "/", nil)
	lan.RemoteAddr = "10.1.2.3:1"
	lan.Header.Set("X-Forwarded-For", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", c.ClientIP(lan))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:1"
	r.Header.Set("X-Forwarded-For", "198.51.100.3")
	assert.Equal(t, "198.51.100.3", c.ClientIP(r))
}
