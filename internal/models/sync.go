package models

import "encoding/json"

// RoomRequest запрос одного клиента к одной комнате внутри batch-запроса
type RoomRequest struct {
	Room      string
	Awareness json.RawMessage // nil означает, что клиент не анонсирует присутствие
	Updates   []TypedUpdate
	ClientID  int64
	After     int64 // курсор: всё с Timestamp <= After клиент уже видел
}

// HasAwareness сообщает, передал ли клиент состояние присутствия
func (r *RoomRequest) HasAwareness() bool {
	return len(r.Awareness) > 0 && string(r.Awareness) != "null"
}

// RoomResponse ответ по одной комнате
type RoomResponse struct {
	Awareness AwarenessMap
	// Err ошибка хранилища, локальная для комнаты. Остальные поля тогда пустые.
	Err               error
	Room              string
	Updates           []TypedUpdate
	CompactionRequest []*UpdateEnvelope // nil, если компакция не требуется
	TotalUpdates      int
	EndCursor         int64
}
