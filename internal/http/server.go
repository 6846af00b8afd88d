package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"pairxpenses/internal/core"
	"pairxpenses/internal/log"
	"pairxpenses/internal/metrics"
	"pairxpenses/internal/middleware/ratelimit"
	"pairxpenses/internal/middleware/security"
	"pairxpenses/internal/middleware/trace"
	"pairxpenses/internal/services"
)

type Options struct {
	Ledger             *services.LedgerService
	Metrics            *metrics.Metrics
	Logger             *log.Logger
	DefaultPercentageA int
	RateLimitPerMinute int
	TrustedProxies     []string
}

type Server struct {
	http.Server
	ledger             *services.LedgerService
	metrics            *metrics.Metrics
	logger             *log.Logger
	limiter            *ratelimit.Limiter
	clientIP           *security.ClientIPResolver
	tracer             *trace.Middleware
	defaultPercentageA int
	started            time.Time

	shutdownOnce sync.Once
}

func NewServer(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	s := &Server{
		ledger:             opts.Ledger,
		metrics:            opts.Metrics,
		logger:             logger.WithComponent(log.ComponentHTTP),
		limiter:            ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		clientIP:           security.NewClientIPResolver(),
		defaultPercentageA: opts.DefaultPercentageA,
		started:            time.Now(),
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.clientIP.AddTrustedProxy(cidr); err != nil {
			s.logger.Warn("Ignoring trusted proxy", "cidr", cidr, "error", err)
		}
	}
	s.tracer = trace.NewMiddleware(logger, s.clientIP.ClientIP)

	mux := http.NewServeMux()
	s.routes(mux)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	s.handle(mux, "GET /healthz", s.handleHealth)
	s.handle(mux, "GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.handle(mux, "GET /api/users", s.handleListUsers)
	s.handle(mux, "PATCH /api/users/{id}", s.handleRenameUser)

	for _, kind := range []core.EntryKind{core.KindPayment, core.KindDebt} {
		base := "/api/" + kind.Plural()
		s.handle(mux, "GET "+base+"/user/{id}", s.handleListEntries(kind))
		s.handle(mux, "GET "+base+"/total/{id}", s.handleTotal(kind))
		s.handle(mux, "POST "+base, s.handleCreateEntry(kind))
		s.handle(mux, "PATCH "+base+"/{id}", s.handleUpdateEntry(kind))
		s.handle(mux, "DELETE "+base+"/{id}", s.handleDeleteEntry(kind))
		s.handle(mux, "DELETE "+base, s.handleDeleteAllEntries(kind))
	}

	s.handle(mux, "GET /api/overview", s.handleOverview)
	s.handle(mux, "POST /api/report", s.handleReport)
	s.handle(mux, "POST /api/settlement", s.handleSettlement)
	s.handle(mux, "POST /api/period/reset", s.handleResetPeriod)
}

// handle registers h and records its latency under the route pattern.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	_, route, _ := strings.Cut(pattern, " ")
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := trace.NewStatusRecorder(w)
		h(rw, r)
		s.metrics.ObserveHTTP(r.Method, route, rw.Status(), time.Since(start))
	}))
}

// middleware wraps the mux, outermost first: tracing, request logger,
// security headers, rate limiting of mutating requests.
func (s *Server) middleware(next http.Handler) http.Handler {
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(s.clientIP.ClientIP, ratelimit.Mutating, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.clientIP.ClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})

	h := limit(next)
	h = headers.Middleware(h)
	h = log.RequestIDMiddleware(trace.RequestID)(h)
	h = log.Middleware(s.logger)(h)
	return s.tracer.Middleware(h)
}

// Shutdown stops the limiter and drains the HTTP server. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
