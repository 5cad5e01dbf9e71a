// Package updatelog реализует журнал обновлений комнаты поверх storage.RoomData:
// штамповку серверными метками, компакцию и вычисление дельты для клиента.
package updatelog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iudanet/roomsync/internal/models"
	"github.com/iudanet/roomsync/internal/server/storage"
)

// DefaultCursorBuffer отступ end_cursor от текущего времени в миллисекундах.
// Конверты, записанные параллельно в последние миллисекунды, будут доставлены
// повторно, а не потеряны.
const DefaultCursorBuffer int64 = 100

// Clock источник серверных меток
type Clock interface {
	Marker() int64
	Observe(marker int64)
	NowMillis() int64
}

// Log операции журнала обновлений. Сам Log состояния комнаты не хранит:
// все данные читаются из RoomData, переданного внутри storage.WithRoom.
type Log struct {
	clock        Clock
	logger       *slog.Logger
	cursorBuffer int64
}

// New создает журнал с буфером курсора по умолчанию
func New(clock Clock, logger *slog.Logger) *Log {
	return NewWithBuffer(clock, logger, DefaultCursorBuffer)
}

// NewWithBuffer создает журнал с заданным отступом end_cursor
func NewWithBuffer(clock Clock, logger *slog.Logger, cursorBuffer int64) *Log {
	if cursorBuffer < 0 {
		cursorBuffer = 0
	}
	return &Log{
		clock:        clock,
		logger:       logger,
		cursorBuffer: cursorBuffer,
	}
}

// ApplyResult итог применения пачки обновлений
type ApplyResult struct {
	// Appended количество записанных конвертов по типу
	Appended map[models.UpdateType]int
	// StaleCompactions компакции, отброшенные из-за более новой компакции в журнале
	StaleCompactions int
}

// Apply применяет обновления клиента по порядку.
// cursor используется только компакцией: конверты с Timestamp < cursor заменяются ею.
func (l *Log) Apply(ctx context.Context, data storage.RoomData, clientID, cursor int64, updates []models.TypedUpdate) (ApplyResult, error) {
	result := ApplyResult{Appended: make(map[models.UpdateType]int)}
	if len(updates) == 0 {
		return result, nil
	}

	// Журнал мог быть записан другим экземпляром сервера:
	// новые метки должны быть больше всех уже сохраненных
	if err := l.observe(ctx, data); err != nil {
		return result, err
	}

	for _, update := range updates {
		switch update.Type {
		case models.UpdateTypeCompaction:
			accepted, err := l.Compact(ctx, data, clientID, cursor, update.Data)
			if err != nil {
				return result, err
			}
			if !accepted {
				result.StaleCompactions++
				continue
			}
		case models.UpdateTypeUpdate, models.UpdateTypeSyncStep1, models.UpdateTypeSyncStep2:
			if _, err := l.Append(ctx, data, clientID, update.Type, update.Data); err != nil {
				return result, err
			}
		default:
			return result, fmt.Errorf("unknown update type %q", update.Type)
		}

		result.Appended[update.Type]++
	}

	return result, nil
}

// Append штампует конверт свежей меткой и добавляет его в журнал
func (l *Log) Append(ctx context.Context, data storage.RoomData, clientID int64, typ models.UpdateType, payload []byte) (*models.UpdateEnvelope, error) {
	envelope := &models.UpdateEnvelope{
		Type:      typ,
		Data:      payload,
		ClientID:  clientID,
		Timestamp: l.clock.Marker(),
	}

	if err := data.AppendUpdate(ctx, envelope); err != nil {
		return nil, fmt.Errorf("failed to append update: %w", err)
	}

	return envelope, nil
}

// Compact заменяет журнал конвертами с Timestamp >= cursor и добавляет
// конверт компакции. Если среди оставшихся уже есть компакция, присланная
// компакция устарела: она не добавляется, возвращается false.
// Фильтрация выполняется всегда, даже для устаревшей компакции.
func (l *Log) Compact(ctx context.Context, data storage.RoomData, clientID, cursor int64, payload []byte) (bool, error) {
	all, err := data.GetAllUpdates(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read updates: %w", err)
	}

	latest := true
	kept := make([]*models.UpdateEnvelope, 0, len(all))
	for _, envelope := range all {
		if envelope.Timestamp < cursor {
			continue
		}
		kept = append(kept, envelope)
		if envelope.IsCompaction() {
			latest = false
		}
	}

	if err := data.ReplaceAllUpdates(ctx, kept); err != nil {
		return false, fmt.Errorf("failed to replace updates: %w", err)
	}

	l.logger.Debug("Compacted update log",
		"client_id", clientID,
		"cursor", cursor,
		"removed", len(all)-len(kept),
		"kept", len(kept),
		"latest", latest,
	)

	if !latest {
		return false, nil
	}

	if _, err := l.Append(ctx, data, clientID, models.UpdateTypeCompaction, payload); err != nil {
		return false, err
	}

	return true, nil
}

// Delta конверты, которые клиент еще не видел
type Delta struct {
	// Updates конверты после курсора, кроме собственных (компакции включаются)
	Updates []*models.UpdateEnvelope
	// All полный журнал в порядке хранения
	All []*models.UpdateEnvelope
	// Total размер журнала до фильтрации
	Total int
	// EndCursor курсор для следующего запроса клиента
	EndCursor int64
}

// Delta вычисляет дельту журнала для clientID после cursor
func (l *Log) Delta(ctx context.Context, data storage.RoomData, clientID, cursor int64) (*Delta, error) {
	endCursor := l.clock.NowMillis() - l.cursorBuffer

	all, err := data.GetAllUpdates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read updates: %w", err)
	}

	updates := make([]*models.UpdateEnvelope, 0)
	for _, envelope := range all {
		// Свои конверты клиенту не возвращаются, кроме компакции
		if envelope.ClientID == clientID && !envelope.IsCompaction() {
			continue
		}
		if envelope.Timestamp <= cursor {
			continue
		}
		updates = append(updates, envelope)
	}

	models.SortByTimestamp(updates)

	return &Delta{
		Updates:   updates,
		All:       all,
		Total:     len(all),
		EndCursor: endCursor,
	}, nil
}

// observe передает часам максимальную сохраненную метку
func (l *Log) observe(ctx context.Context, data storage.RoomData) error {
	all, err := data.GetAllUpdates(ctx)
	if err != nil {
		return fmt.Errorf("failed to read updates: %w", err)
	}

	for _, envelope := range all {
		l.clock.Observe(envelope.Timestamp)
	}

	return nil
}
