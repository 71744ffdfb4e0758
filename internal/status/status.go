// Package status exposes a small local HTTP surface for liveness checks
// and operator visibility into the current job.
package status

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hangar/rivet/internal/poller"
	"hangar/rivet/pkg/logger"
)

// Server serves /healthz and /status on a local listener.
type Server struct {
	poller *poller.Poller
	log    *logger.Logger
}

// NewServer creates a status server reading state from p.
func NewServer(p *poller.Poller, log *logger.Logger) *Server {
	return &Server{
		poller: p,
		log:    log.WithComponent("status"),
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.poller.State()); err != nil {
			s.log.WithError(err).Error("failed to encode status")
		}
	})

	return r
}

// ListenAndServe blocks serving the router on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("status server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}
