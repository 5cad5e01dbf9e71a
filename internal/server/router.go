// Package server собирает HTTP роутер и middleware цепочку sync сервера.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iudanet/roomsync/internal/server/handlers"
	"github.com/iudanet/roomsync/internal/server/metrics"
	"github.com/iudanet/roomsync/internal/server/middleware"
	"github.com/iudanet/roomsync/pkg/api"
)

// Routes
const (
	SyncPath    = "/api/v1/sync/updates"
	HealthPath  = "/api/v1/health"
	MetricsPath = "/metrics"
)

// RouterDeps зависимости роутера
type RouterDeps struct {
	Logger      *slog.Logger
	Sync        *handlers.SyncHandler
	Health      *handlers.HealthHandler
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	RateLimiter *middleware.RateLimiter
	JWTConfig   handlers.JWTConfig
}

// NewRouter создает роутер.
// Цепочка: recovery -> logging -> rate limit -> auth (только для sync).
// RateLimiter может быть nil, тогда ограничение отключено.
func NewRouter(deps RouterDeps) http.Handler {
	r := mux.NewRouter()

	r.Use(
		middleware.RecoveryMiddleware(deps.Logger),
		middleware.LoggingWithSkip(deps.Logger, deps.Metrics, []string{MetricsPath, HealthPath}),
	)
	if deps.RateLimiter != nil {
		r.Use(middleware.RateLimitMiddleware(deps.RateLimiter, deps.Logger))
	}

	auth := middleware.AuthMiddleware(deps.Logger, deps.JWTConfig)
	r.Handle(SyncPath, auth(http.HandlerFunc(deps.Sync.HandleSync))).Methods(http.MethodPost)
	r.HandleFunc(HealthPath, deps.Health.Health).Methods(http.MethodGet)

	if deps.Gatherer != nil {
		r.Handle(MetricsPath, promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.NotFoundHandler = jsonError(http.StatusNotFound, "not found")
	r.MethodNotAllowedHandler = jsonError(http.StatusMethodNotAllowed, "method not allowed")

	return r
}

func jsonError(status int, msg string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: msg})
	})
}
