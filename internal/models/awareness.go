package models

import "encoding/json"

// AwarenessEntry состояние присутствия одного клиента в комнате.
// State непрозрачное JSON значение, UpdatedAt в секундах unix time.
type AwarenessEntry struct {
	State     json.RawMessage `json:"state"`
	ClientID  int64           `json:"client_id"`
	UpdatedAt int64           `json:"updated_at"`
}

// Clone создает глубокую копию записи
func (a *AwarenessEntry) Clone() *AwarenessEntry {
	state := make(json.RawMessage, len(a.State))
	copy(state, a.State)

	return &AwarenessEntry{
		State:     state,
		ClientID:  a.ClientID,
		UpdatedAt: a.UpdatedAt,
	}
}

// AwarenessMap client_id -> state, полная карта присутствия комнаты
type AwarenessMap map[int64]json.RawMessage

// Leader возвращает минимальный client_id карты.
// Второе значение false, если карта пуста.
func (m AwarenessMap) Leader() (int64, bool) {
	var (
		leader int64
		found  bool
	)
	for clientID := range m {
		if !found || clientID < leader {
			leader = clientID
			found = true
		}
	}
	return leader, found
}
