package httpapi

import (
	"github.com/go-chi/chi/v5"

	"github.com/automarketer/publisher/internal/metrics"
)

// /metrics is unauthenticated; keep it off public ingress.
func (s *Server) mountMetrics(r chi.Router) {
	r.Method("GET", "/metrics", metrics.Handler())
}
