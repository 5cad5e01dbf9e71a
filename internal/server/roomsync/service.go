// Package roomsync обрабатывает batch-запросы синхронизации комнат:
// слияние awareness, выбор компактора, применение обновлений и дельту.
package roomsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/roomsync/internal/awareness"
	"github.com/iudanet/roomsync/internal/clock"
	"github.com/iudanet/roomsync/internal/models"
	"github.com/iudanet/roomsync/internal/server/access"
	"github.com/iudanet/roomsync/internal/server/metrics"
	"github.com/iudanet/roomsync/internal/server/storage"
	"github.com/iudanet/roomsync/internal/updatelog"
	"github.com/iudanet/roomsync/internal/validation"
)

var (
	// ErrInvalidRequest batch содержит некорректную комнату или поле
	ErrInvalidRequest = errors.New("invalid request")
	// ErrForbidden пользователю запрещена хотя бы одна комната batch'а
	ErrForbidden = errors.New("forbidden")
)

// DefaultCompactionThreshold размер журнала, после которого компактору
// отправляется compaction_request (строго больше порога)
const DefaultCompactionThreshold = 50

// Config настройки сервиса
type Config struct {
	CompactionThreshold int
	AwarenessTimeout    time.Duration
	CursorBuffer        int64
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		CompactionThreshold: DefaultCompactionThreshold,
		AwarenessTimeout:    awareness.DefaultTimeout,
		CursorBuffer:        updatelog.DefaultCursorBuffer,
	}
}

// Service оркестратор синхронизации
type Service struct {
	storage    storage.RoomStorage
	authorizer access.Authorizer
	log        *updatelog.Log
	awareness  *awareness.Registry
	metrics    *metrics.Metrics
	logger     *slog.Logger
	threshold  int
}

// NewService создает оркестратор.
// clk используется для меток журнала и для времени awareness.
func NewService(logger *slog.Logger, store storage.RoomStorage, authorizer access.Authorizer, m *metrics.Metrics, clk *clock.Clock, cfg Config) *Service {
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = DefaultCompactionThreshold
	}

	return &Service{
		storage:    store,
		authorizer: authorizer,
		log:        updatelog.NewWithBuffer(clk, logger, cfg.CursorBuffer),
		awareness:  awareness.New(clk.Now, logger, cfg.AwarenessTimeout),
		metrics:    m,
		logger:     logger,
		threshold:  cfg.CompactionThreshold,
	}
}

// Process обрабатывает batch целиком.
// Ошибки валидации и авторизации относятся ко всему batch'у и возвращаются
// до обращения к хранилищу. Ошибки хранилища локальны для комнаты:
// они попадают в RoomResponse.Err, остальные комнаты обрабатываются.
func (s *Service) Process(ctx context.Context, principal access.Principal, requests []models.RoomRequest) ([]models.RoomResponse, error) {
	start := time.Now()

	keys, err := Validate(requests)
	if err != nil {
		return nil, err
	}

	if err := s.authorizer.Authorize(ctx, principal, keys); err != nil {
		if errors.Is(err, access.ErrDenied) {
			return nil, fmt.Errorf("%w: %v", ErrForbidden, err)
		}
		return nil, fmt.Errorf("failed to authorize: %w", err)
	}

	responses := make([]models.RoomResponse, 0, len(requests))
	failed := 0
	for i := range requests {
		resp := s.processRoom(ctx, &requests[i])
		if resp.Err != nil {
			failed++
		}
		responses = append(responses, resp)
	}

	s.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	s.metrics.LastBatchRooms.Set(float64(len(requests)))

	s.logger.Info("Sync batch processed",
		"user_id", principal.UserID,
		"rooms", len(requests),
		"failed_rooms", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return responses, nil
}

// processRoom выполняет полный цикл комнаты внутри одной критической секции хранилища
func (s *Service) processRoom(ctx context.Context, req *models.RoomRequest) models.RoomResponse {
	var (
		resp   = models.RoomResponse{Room: req.Room}
		result updatelog.ApplyResult
	)

	err := s.storage.WithRoom(ctx, req.Room, func(ctx context.Context, data storage.RoomData) error {
		merged, err := s.awareness.Merge(ctx, data, req.ClientID, req.Awareness)
		if err != nil {
			return err
		}

		// Компактор - клиент с минимальным client_id среди живых
		leader, ok := merged.Leader()
		isCompactor := ok && leader == req.ClientID

		result, err = s.log.Apply(ctx, data, req.ClientID, req.After, req.Updates)
		if err != nil {
			return err
		}

		delta, err := s.log.Delta(ctx, data, req.ClientID, req.After)
		if err != nil {
			return err
		}

		updates := make([]models.TypedUpdate, 0, len(delta.Updates))
		for _, envelope := range delta.Updates {
			updates = append(updates, models.TypedUpdate{Type: envelope.Type, Data: envelope.Data})
		}

		resp.Awareness = merged
		resp.Updates = updates
		resp.TotalUpdates = delta.Total
		resp.EndCursor = delta.EndCursor

		if isCompactor && delta.Total > s.threshold {
			resp.CompactionRequest = delta.All
		}

		return nil
	})
	if err != nil {
		s.metrics.RoomsProcessed.WithLabelValues(metrics.StatusError).Inc()
		s.logger.Error("Failed to process room",
			"room", req.Room,
			"client_id", req.ClientID,
			"error", err,
		)
		return models.RoomResponse{Room: req.Room, Err: err}
	}

	s.metrics.RoomsProcessed.WithLabelValues(metrics.StatusOK).Inc()
	for typ, count := range result.Appended {
		s.metrics.UpdatesApplied.WithLabelValues(string(typ)).Add(float64(count))
	}
	if accepted := result.Appended[models.UpdateTypeCompaction]; accepted > 0 {
		s.metrics.Compactions.WithLabelValues(metrics.CompactionAccepted).Add(float64(accepted))
	}
	if result.StaleCompactions > 0 {
		s.metrics.Compactions.WithLabelValues(metrics.CompactionStale).Add(float64(result.StaleCompactions))
		s.logger.Debug("Stale compaction dropped",
			"room", req.Room,
			"client_id", req.ClientID,
			"count", result.StaleCompactions,
		)
	}
	if resp.CompactionRequest != nil {
		s.metrics.CompactionRequests.Inc()
		s.logger.Debug("Compaction requested",
			"room", req.Room,
			"client_id", req.ClientID,
			"total_updates", resp.TotalUpdates,
		)
	}

	return resp
}

// Validate проверяет batch и возвращает разобранные ключи комнат.
// Любая ошибка оборачивает ErrInvalidRequest.
func Validate(requests []models.RoomRequest) ([]validation.RoomKey, error) {
	keys := make([]validation.RoomKey, 0, len(requests))

	for i, req := range requests {
		key, err := validation.ParseRoomKey(req.Room)
		if err != nil {
			return nil, fmt.Errorf("%w: rooms[%d].room: %v", ErrInvalidRequest, i, err)
		}

		if req.ClientID < 1 {
			return nil, fmt.Errorf("%w: rooms[%d].client_id must be >= 1", ErrInvalidRequest, i)
		}

		if req.After < 0 {
			return nil, fmt.Errorf("%w: rooms[%d].after must be >= 0", ErrInvalidRequest, i)
		}

		for j, update := range req.Updates {
			if !update.Type.Valid() {
				return nil, fmt.Errorf("%w: rooms[%d].updates[%d].type %q is unknown", ErrInvalidRequest, i, j, update.Type)
			}
			if update.Data == nil {
				return nil, fmt.Errorf("%w: rooms[%d].updates[%d].data is required", ErrInvalidRequest, i, j)
			}
		}

		keys = append(keys, key)
	}

	return keys, nil
}
