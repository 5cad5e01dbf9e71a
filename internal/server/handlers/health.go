package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/roomsync/pkg/api"
)

// Pinger проверяет доступность хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	logger  *slog.Logger
	storage Pinger
	backend string
	version string
}

// NewHealthHandler создает новый handler для health check.
// backend - имя используемого хранилища (memory, sqlite, ...)
func NewHealthHandler(logger *slog.Logger, storage Pinger, backend, version string) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		storage: storage,
		backend: backend,
		version: version,
	}
}

// Health обрабатывает GET /api/v1/health
// Health check endpoint для мониторинга, 503 если хранилище недоступно
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := api.HealthResponse{
		Status:  "ok",
		Version: h.version,
		Storage: h.backend,
	}

	if err := h.storage.Ping(ctx); err != nil {
		h.logger.Error("Storage health check failed", "storage", h.backend, "error", err)
		resp.Status = "unavailable"
		writeJSON(w, h.logger, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}
