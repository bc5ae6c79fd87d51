// Package server exposes probes, metrics, bridge status and a live telemetry
// stream over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/mavbridge/internal/pkg/metrics"
	"github.com/autopeer-io/mavbridge/pkg/log"
	"github.com/autopeer-io/mavbridge/pkg/options"
)

// StatusFunc renders the bridge state served on /api/v1/status.
type StatusFunc func() any

// Check is a named readiness condition.
type Check struct {
	Name  string
	Ready func() bool
}

// Sources feed the server's endpoints. A nil member disables its routes.
// Vehicle actions are only served when the options enable them.
type Sources struct {
	Status  StatusFunc
	Checks  []Check
	Hub     *Hub
	Vehicle Vehicle
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	hub     *Hub
	logger  log.Logger
}

// NewServer builds the HTTP server.
func NewServer(opts *options.HttpOptions, src Sources) *Server {
	s := &Server{options: opts, hub: src.Hub, logger: log.WithName("http")}

	r := mux.NewRouter()

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Readiness Probe: every check must pass.
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		for _, c := range src.Checks {
			if !c.Ready() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(c.Name + " not ready"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	if src.Status != nil {
		api.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
			s.writeJSON(w, http.StatusOK, src.Status())
		}).Methods(http.MethodGet)
	}
	if src.Vehicle != nil && opts.EnableActions {
		api.HandleFunc("/vehicle/{action}", s.vehicleAction(src.Vehicle)).Methods(http.MethodPost)
	}

	if src.Hub != nil {
		r.Handle("/ws/telemetry", src.Hub)
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: opts.Timeout,
	}
	return s
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(err, "Failed to write response")
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	network := s.options.Network
	if network == "" {
		network = "tcp"
	}
	ln, err := net.Listen(network, s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Starting HTTP Server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if s.hub != nil {
			s.hub.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
