// Package api is the TES v1.1.0 HTTP surface: chi handlers that
// authenticate, validate, delegate to the Store, and launch the
// Orchestrator job for new tasks, per spec section 6.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/poiesis-run/poiesis/pkg/auth"
	"github.com/poiesis-run/poiesis/pkg/bus"
	"github.com/poiesis-run/poiesis/pkg/cluster"
	"github.com/poiesis-run/poiesis/pkg/config"
	"github.com/poiesis-run/poiesis/pkg/metrics"
	"github.com/poiesis-run/poiesis/pkg/store"
)

// Server bundles the dependencies every handler delegates to.
type Server struct {
	Store  store.Store
	Bus    bus.Bus
	Driver cluster.Driver
	Auth   auth.Authenticator
	Config *config.Config
}

// NewRouter builds the full TES v1.1.0 HTTP surface.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestMetrics)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/ga4gh/tes/v1/service-info", s.handleServiceInfo)
	r.Post("/ga4gh/tes/v1/tasks", s.requireAuth(s.handleCreateTask))
	r.Get("/ga4gh/tes/v1/tasks", s.requireAuth(s.handleListTasks))
	r.Get("/ga4gh/tes/v1/tasks/{id}", s.requireAuth(s.handleGetTask))
	r.Post("/ga4gh/tes/v1/tasks/{id}:cancel", s.requireAuth(s.handleCancelTask))

	r.Handle("/metrics", metrics.Handler())

	return r
}

// requestMetrics records HTTPRequestDuration/HTTPRequestsTotal per request,
// grounded on the teacher's metrics-timer idiom (pkg/metrics.Timer) rather
// than a bespoke stopwatch.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		labels := []string{r.Method, route, http.StatusText(ww.Status())}
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, labels...)
		metrics.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
	})
}
