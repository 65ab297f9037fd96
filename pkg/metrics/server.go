// Package metrics exposes the ingestion engine's Prometheus counters,
// histograms, and gauges over a small standalone HTTP server separate
// from the REST façade, per §6's server.metrics_port.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server runs the /metrics and /health endpoints on their own port so a
// scraper never competes with the REST façade's request budget.
type Server struct {
	server *http.Server
	log    *logrus.Logger
}

// NewServer builds a Server bound to port (no leading colon).
func NewServer(port string, log *logrus.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{Addr: ":" + port, Handler: mux},
		log:    log,
	}
}

// StartAsync runs the server in a background goroutine, logging (but not
// propagating) a startup failure such as a port already in use.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server stopped unexpectedly")
		}
	}()
}

// Stop gracefully shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
