package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves m's registry over HTTP, grounded on the teacher corpus's
// metric.Server (same path/health-endpoint shape, simplified: no TLS, since
// the Plan Engine metrics endpoint is an internal/operator-network surface).
type Server struct {
	addr   string
	path   string
	server *http.Server
}

// NewServer creates a metrics HTTP server for m. addr defaults to ":9090",
// path to "/metrics".
func NewServer(addr, path string, m *Metrics) *Server {
	if addr == "" {
		addr = ":9090"
	}
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		addr: addr,
		path: path,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Run starts the server and blocks until ctx is cancelled or the server
// fails, mirroring the cobra-command run-to-completion shape the rest of
// the ambient stack uses (cmd/planengine).
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.server.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost%s%s", s.addr, s.path)
}
