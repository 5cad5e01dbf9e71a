package storage

import (
	"context"

	"github.com/iudanet/roomsync/pkg/api"
)

// PendingUpdate обновление, ожидающее отправки на сервер
type PendingUpdate struct {
	Update api.TypedUpdate
	Seq    uint64 // порядковый номер в очереди комнаты
}

// RoomStateStorage локальное состояние клиента: курсоры комнат и очередь исходящих обновлений
type RoomStateStorage interface {
	// ClientID возвращает постоянный client_id, при первом вызове генерирует его
	ClientID(ctx context.Context) (int64, error)

	// GetCursor возвращает end_cursor последнего успешного опроса, 0 если опросов не было
	GetCursor(ctx context.Context, room string) (int64, error)
	SaveCursor(ctx context.Context, room string, cursor int64) error

	// Enqueue добавляет обновление в очередь комнаты
	Enqueue(ctx context.Context, room string, update api.TypedUpdate) error

	// Pending возвращает очередь комнаты в порядке добавления
	Pending(ctx context.Context, room string) ([]PendingUpdate, error)

	// Ack удаляет из очереди обновления с Seq <= upTo
	Ack(ctx context.Context, room string, upTo uint64) error

	// Rooms возвращает комнаты, для которых есть курсор или очередь
	Rooms(ctx context.Context) ([]string, error)
}
