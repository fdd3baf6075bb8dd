// Package opsapi serves this node's local observability endpoints: Prometheus
// scraping and a liveness probe. It is not part of the coordination fabric —
// every farm-wide operation happens through the shared filesystem (spec §1);
// pulling this process's HTTP listener down blinds local observability only.
package opsapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smallrender/core/pkg/log"
)

// Server hosts /metrics and /healthz on a loopback address.
type Server struct {
	http *http.Server
	ln   net.Listener
}

// NewServer builds a Server bound to addr (typically "127.0.0.1:0" or a
// fixed loopback port from config). It does not start listening.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)

	return &Server{
		http: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Start binds the listener and serves in the background. It returns once
// the listener is bound so callers can read Addr() immediately after.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.ln = ln

	logger := log.WithComponent("opsapi")
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("opsapi server stopped unexpectedly")
		}
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("opsapi listening")
	return nil
}

// Addr returns the bound address. Valid only after Start succeeds.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts the server down, bounded by a short timeout since
// this is a local-only diagnostic endpoint, not a farm-facing service.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.http.Shutdown(ctx)
}
