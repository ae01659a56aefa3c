package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Runner reports whether the background publisher loop is alive.
type Runner interface {
	Running() bool
}

// /healthz is liveness only. /readyz checks the database and, when the loop
// runs in this process, that it has not stopped.
func (s *Server) mountHealth(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		status, checks := http.StatusOK, map[string]string{"db": "ok"}
		if err := s.Store.DB.Pool.Ping(ctx); err != nil {
			status, checks["db"] = http.StatusServiceUnavailable, "unreachable"
		}
		if s.Scheduler != nil {
			checks["scheduler"] = "running"
			if !s.Scheduler.Running() {
				status, checks["scheduler"] = http.StatusServiceUnavailable, "stopped"
			}
		}
		writeJSON(w, status, checks)
	})
}
