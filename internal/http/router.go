// Package httpapi assembles the process-wide router. Transport concerns
// (request ids, panic recovery, rate limits, metrics exposition) live here;
// endpoint behavior lives in the handler packages.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agora/internal/federation/handler"
	"agora/internal/federation/ratelimit"
)

// NewRouter wires all public endpoints. The inbox and object endpoints sit
// behind the per-peer rate limiter; the admin API carries its own auth.
func NewRouter(fed *handler.Handler, admin *handler.AdminHandler, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(ratelimit.Middleware(limiter, ratelimit.ByClientIP))
		}
		fed.Register(r)
	})

	if admin != nil {
		admin.Register(r)
	}
	return r
}
