// Package awareness сливает состояния присутствия клиентов комнаты.
package awareness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/roomsync/internal/models"
	"github.com/iudanet/roomsync/internal/server/storage"
)

// DefaultTimeout время жизни записи присутствия без обновлений
const DefaultTimeout = 30 * time.Second

// Registry объединяет записи присутствия комнаты при каждом запросе
type Registry struct {
	now     func() time.Time
	logger  *slog.Logger
	timeout int64 // в секундах, как и UpdatedAt
}

// New создает реестр с заданным таймаутом. Таймаут округляется до секунд,
// значения меньше секунды заменяются на DefaultTimeout.
func New(now func() time.Time, logger *slog.Logger, timeout time.Duration) *Registry {
	if timeout < time.Second {
		timeout = DefaultTimeout
	}
	return &Registry{
		now:     now,
		logger:  logger,
		timeout: int64(timeout / time.Second),
	}
}

// Merge загружает записи комнаты, удаляет устаревшие и прежнюю запись клиента,
// добавляет новое состояние, если оно прислано, сохраняет результат и возвращает полную карту.
// Клиент без состояния (отсутствует или null) покидает карту присутствия.
func (r *Registry) Merge(ctx context.Context, data storage.RoomData, clientID int64, state json.RawMessage) (models.AwarenessMap, error) {
	existing, err := data.GetAwareness(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get awareness: %w", err)
	}

	now := r.now().Unix()
	announcing := hasState(state)

	merged := make([]*models.AwarenessEntry, 0, len(existing)+1)
	expired := 0
	for _, entry := range existing {
		if entry.ClientID == clientID {
			continue
		}
		if now-entry.UpdatedAt >= r.timeout {
			expired++
			continue
		}
		merged = append(merged, entry)
	}

	if announcing {
		merged = append(merged, &models.AwarenessEntry{
			State:     state,
			ClientID:  clientID,
			UpdatedAt: now,
		})
	}

	if err := data.SetAwareness(ctx, merged); err != nil {
		return nil, fmt.Errorf("failed to set awareness: %w", err)
	}

	if expired > 0 {
		r.logger.Debug("Expired awareness entries", "client_id", clientID, "expired", expired)
	}

	result := make(models.AwarenessMap, len(merged))
	for _, entry := range merged {
		result[entry.ClientID] = entry.State
	}

	return result, nil
}

// hasState false для отсутствующего состояния и JSON null
func hasState(state json.RawMessage) bool {
	return len(state) > 0 && string(state) != "null"
}
