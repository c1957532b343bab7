// Package admin mounts the small health/metrics HTTP surface the daemon
// owns directly, distinct from any richer JSON/MCP gateway that might run
// alongside it. Grounded on the teacher's internal/api/server.go chi
// router setup and cmd/pushgw/main.go's minimal health-check handler.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthProvider reports whether the daemon's core subsystems are ready
// to serve traffic.
type HealthProvider interface {
	// Healthy returns ok=false and a reason when some subsystem cannot
	// currently serve (e.g. no compiled graph installed yet).
	Healthy() (ok bool, reason string)
}

// Mux is the admin HTTP handler: /healthz and /metrics.
type Mux struct {
	router *chi.Mux
}

// New builds the admin mux. registry is typically prometheus.NewRegistry()
// with the daemon's metrics.Collector already registered; health may be
// nil, in which case /healthz always reports ok.
func New(registry *prometheus.Registry, health HealthProvider) *Mux {
	m := &Mux{router: chi.NewRouter()}

	m.router.Use(chimw.RequestID)
	m.router.Use(chimw.Recoverer)

	m.router.Get("/healthz", m.handleHealthz(health))
	if registry != nil {
		m.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return m
}

// ServeHTTP implements http.Handler.
func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.ServeHTTP(w, r)
}

func (m *Mux) handleHealthz(health HealthProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, reason := true, ""
		if health != nil {
			ok, reason = health.Healthy()
		}

		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		body := map[string]any{"status": "ok"}
		if !ok {
			body["status"] = "unavailable"
			body["reason"] = reason
		}
		json.NewEncoder(w).Encode(body)
	}
}
