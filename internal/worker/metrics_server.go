package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"pairxpenses/internal/log"
	"pairxpenses/internal/metrics"
)

// MetricsServer exposes the worker's counters and a liveness probe.
type MetricsServer struct {
	srv    *http.Server
	logger *log.Logger
}

func NewMetricsServer(addr string, m *metrics.Metrics, logger *log.Logger) *MetricsServer {
	if logger == nil {
		logger = log.Nop()
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

func (s *MetricsServer) Handler() http.Handler { return s.srv.Handler }

// Run listens until ctx is cancelled, then shuts down.
func (s *MetricsServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *MetricsServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.logger.Info("Worker metrics listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
