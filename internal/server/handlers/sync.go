package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/roomsync/internal/models"
	"github.com/iudanet/roomsync/internal/server/access"
	"github.com/iudanet/roomsync/internal/server/roomsync"
	"github.com/iudanet/roomsync/pkg/api"
)

// DefaultMaxBodyBytes ограничение размера тела sync запроса
const DefaultMaxBodyBytes int64 = 8 << 20

// contextKey тип для ключей контекста
type contextKey string

// PrincipalKey ключ для хранения access.Principal в контексте
const PrincipalKey contextKey = "principal"

// WithPrincipal сохраняет пользователя запроса в контексте
func WithPrincipal(ctx context.Context, principal access.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetPrincipal извлекает пользователя запроса из контекста
func GetPrincipal(ctx context.Context) (access.Principal, bool) {
	principal, ok := ctx.Value(PrincipalKey).(access.Principal)
	return principal, ok
}

// Syncer определяет интерфейс оркестратора синхронизации
type Syncer interface {
	Process(ctx context.Context, principal access.Principal, requests []models.RoomRequest) ([]models.RoomResponse, error)
}

// SyncHandler handles synchronization requests
type SyncHandler struct {
	logger       *slog.Logger
	syncer       Syncer
	maxBodyBytes int64
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, syncer Syncer, maxBodyBytes int64) *SyncHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &SyncHandler{
		logger:       logger,
		syncer:       syncer,
		maxBodyBytes: maxBodyBytes,
	}
}

// HandleSync обрабатывает POST /api/v1/sync/updates
// Принимает batch комнат и возвращает по каждой недостающие обновления и awareness
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}

	ctx := r.Context()

	// Пользователь установлен AuthMiddleware
	principal, ok := GetPrincipal(ctx)
	if !ok {
		h.logger.Error("Principal not found in context")
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var req api.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.logger.Warn("Sync request body too large", "limit", maxBytesErr.Limit)
			writeError(w, h.logger, http.StatusRequestEntityTooLarge, "request body too large", "")
			return
		}

		h.logger.Warn("Failed to decode sync request", "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if req.Rooms == nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request", "rooms is required")
		return
	}

	responses, err := h.syncer.Process(ctx, principal, toRoomRequests(req.Rooms))
	switch {
	case errors.Is(err, roomsync.ErrInvalidRequest):
		h.logger.Warn("Invalid sync request", "user_id", principal.UserID, "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "invalid request", err.Error())
		return
	case errors.Is(err, roomsync.ErrForbidden):
		writeError(w, h.logger, http.StatusForbidden, "forbidden", err.Error())
		return
	case err != nil:
		h.logger.Error("Failed to process sync request", "user_id", principal.UserID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal server error", "")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, api.SyncResponse{Rooms: toAPIResponses(responses)})
}

// toRoomRequests конвертирует запрос из API формата.
// Данные обновлений остаются непрозрачными строками и не декодируются.
func toRoomRequests(rooms []api.RoomRequest) []models.RoomRequest {
	result := make([]models.RoomRequest, 0, len(rooms))

	for _, room := range rooms {
		updates := make([]models.TypedUpdate, 0, len(room.Updates))
		for _, update := range room.Updates {
			var data []byte
			if update.Data != nil {
				data = []byte(*update.Data)
			}
			updates = append(updates, models.TypedUpdate{
				Type: models.UpdateType(update.Type),
				Data: data,
			})
		}

		result = append(result, models.RoomRequest{
			Room:      room.Room,
			Awareness: room.Awareness,
			Updates:   updates,
			ClientID:  room.ClientID,
			After:     room.After,
		})
	}

	return result
}

// toAPIResponses конвертирует ответы комнат в API формат
func toAPIResponses(responses []models.RoomResponse) []api.RoomResponse {
	result := make([]api.RoomResponse, 0, len(responses))

	for _, resp := range responses {
		apiResp := api.RoomResponse{
			Room:      resp.Room,
			Awareness: make(map[int64]json.RawMessage, len(resp.Awareness)),
			Updates:   make([]api.TypedUpdate, 0, len(resp.Updates)),
		}

		if resp.Err != nil {
			// Детали ошибки хранилища наружу не отдаем
			apiResp.Error = "room unavailable"
			result = append(result, apiResp)
			continue
		}

		for clientID, state := range resp.Awareness {
			apiResp.Awareness[clientID] = state
		}

		for _, update := range resp.Updates {
			apiResp.Updates = append(apiResp.Updates, api.TypedUpdate{
				Type: string(update.Type),
				Data: string(update.Data),
			})
		}

		if resp.CompactionRequest != nil {
			apiResp.CompactionRequest = make([]api.UpdateEnvelope, 0, len(resp.CompactionRequest))
			for _, envelope := range resp.CompactionRequest {
				apiResp.CompactionRequest = append(apiResp.CompactionRequest, api.UpdateEnvelope{
					Type:      string(envelope.Type),
					Data:      string(envelope.Data),
					ClientID:  envelope.ClientID,
					Timestamp: envelope.Timestamp,
				})
			}
		}

		apiResp.TotalUpdates = resp.TotalUpdates
		apiResp.EndCursor = resp.EndCursor

		result = append(result, apiResp)
	}

	return result
}

// writeJSON сериализует ответ с заданным статусом
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// writeError отправляет api.ErrorResponse
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, msg, details string) {
	writeJSON(w, logger, status, api.ErrorResponse{Error: msg, Message: details})
}
