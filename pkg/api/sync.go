package api

import "encoding/json"

// Типы обновлений
const (
	UpdateTypeSyncStep1  = "sync_step1"
	UpdateTypeSyncStep2  = "sync_step2"
	UpdateTypeUpdate     = "update"
	UpdateTypeCompaction = "compaction"
)

// SyncRequest представляет batch-запрос синхронизации нескольких комнат
type SyncRequest struct {
	Rooms []RoomRequest `json:"rooms"`
}

// RoomRequest запрос клиента к одной комнате
type RoomRequest struct {
	Room      string          `json:"room"`      // ключ комнаты kind/name[:id]
	Awareness json.RawMessage `json:"awareness"` // состояние присутствия, null убирает клиента из карты
	Updates   []UpdateInput   `json:"updates"`   // исходящие обновления клиента
	ClientID  int64           `json:"client_id"` // идентификатор клиента, >= 1
	After     int64           `json:"after"`     // курсор: end_cursor предыдущего ответа
}

// UpdateInput обновление, присланное клиентом.
// Data указатель: отсутствующее поле отличается от пустой строки.
type UpdateInput struct {
	Type string  `json:"type"`
	Data *string `json:"data"`
}

// NewUpdateInput создает UpdateInput с заданными данными
func NewUpdateInput(typ, data string) UpdateInput {
	return UpdateInput{Type: typ, Data: &data}
}

// TypedUpdate обновление, возвращаемое клиенту
type TypedUpdate struct {
	Type string `json:"type"`
	Data string `json:"data"` // непрозрачные данные (base64 по соглашению)
}

// UpdateEnvelope элемент журнала комнаты в compaction_request
type UpdateEnvelope struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	ClientID  int64  `json:"client_id"`
	Timestamp int64  `json:"timestamp"`
}

// SyncResponse представляет ответ сервера на batch-запрос
type SyncResponse struct {
	Rooms []RoomResponse `json:"rooms"`
}

// RoomResponse ответ по одной комнате
type RoomResponse struct {
	Awareness         map[int64]json.RawMessage `json:"awareness"`          // client_id -> state
	Room              string                    `json:"room"`               // ключ комнаты
	Error             string                    `json:"error,omitempty"`    // ошибка хранилища этой комнаты
	Updates           []TypedUpdate             `json:"updates"`            // обновления после курсора
	CompactionRequest []UpdateEnvelope          `json:"compaction_request"` // полный журнал для компактора или null
	TotalUpdates      int                       `json:"total_updates"`      // размер журнала
	EndCursor         int64                     `json:"end_cursor"`         // курсор для следующего запроса
}
