package models

import "sort"

// UpdateType тип update-конверта в журнале комнаты
type UpdateType string

// Допустимые типы update-конвертов
const (
	UpdateTypeSyncStep1  UpdateType = "sync_step1"
	UpdateTypeSyncStep2  UpdateType = "sync_step2"
	UpdateTypeUpdate     UpdateType = "update"
	UpdateTypeCompaction UpdateType = "compaction"
)

// Valid проверяет, что тип входит в список известных типов
func (t UpdateType) Valid() bool {
	switch t {
	case UpdateTypeSyncStep1, UpdateTypeSyncStep2, UpdateTypeUpdate, UpdateTypeCompaction:
		return true
	default:
		return false
	}
}

// UpdateEnvelope представляет один элемент журнала обновлений комнаты.
// Data никогда не интерпретируется сервером: это непрозрачный blob,
// сформированный клиентом. Timestamp назначается только сервером и является
// единственным ключом упорядочивания и курсором.
type UpdateEnvelope struct {
	Type      UpdateType `json:"type"`      // Type тип конверта
	Data      []byte     `json:"data"`      // Data непрозрачные данные клиента
	ClientID  int64      `json:"client_id"` // ClientID автор конверта
	Timestamp int64      `json:"timestamp"` // Timestamp серверная метка в миллисекундах
}

// Clone создает глубокую копию конверта
func (e *UpdateEnvelope) Clone() *UpdateEnvelope {
	data := make([]byte, len(e.Data))
	copy(data, e.Data)

	return &UpdateEnvelope{
		Type:      e.Type,
		Data:      data,
		ClientID:  e.ClientID,
		Timestamp: e.Timestamp,
	}
}

// IsCompaction возвращает true для конвертов компакции
func (e *UpdateEnvelope) IsCompaction() bool {
	return e.Type == UpdateTypeCompaction
}

// SortByTimestamp стабильно сортирует конверты по возрастанию Timestamp.
// При равных метках сохраняется исходный порядок вставки.
func SortByTimestamp(envelopes []*UpdateEnvelope) {
	sort.SliceStable(envelopes, func(i, j int) bool {
		return envelopes[i].Timestamp < envelopes[j].Timestamp
	})
}

// TypedUpdate пара (type, data) без серверных полей.
// Так клиент присылает обновления и так получает их обратно.
type TypedUpdate struct {
	Type UpdateType
	Data []byte
}
