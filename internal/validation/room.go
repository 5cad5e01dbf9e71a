package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxRoomLen максимальная длина ключа комнаты
const MaxRoomLen = 255

type roomPart struct {
	field string
	value string
}

// RoomKey разобранный ключ комнаты формата kind/name[:id]
type RoomKey struct {
	Kind string
	Name string
	ID   string // пусто для комнаты-коллекции
}

// IsCollection true, если ключ не содержит идентификатор объекта
func (k RoomKey) IsCollection() bool {
	return k.ID == ""
}

// String собирает ключ обратно
func (k RoomKey) String() string {
	if k.IsCollection() {
		return k.Kind + "/" + k.Name
	}
	return k.Kind + "/" + k.Name + ":" + k.ID
}

// ParseRoomKey разбирает и проверяет ключ комнаты.
// Формат: kind/name или kind/name:id. Ключ режется только по первому '/'
// и первому ':' после него, поэтому id может содержать '/' и ':'.
// Части должны быть непустыми, ключ - валидный UTF-8 без управляющих символов.
func ParseRoomKey(room string) (RoomKey, error) {
	if room == "" {
		return RoomKey{}, fmt.Errorf("room cannot be empty")
	}

	if len(room) > MaxRoomLen {
		return RoomKey{}, fmt.Errorf("room must not exceed %d characters", MaxRoomLen)
	}

	if !utf8.ValidString(room) {
		return RoomKey{}, fmt.Errorf("room must be valid UTF-8")
	}

	if strings.IndexFunc(room, unicode.IsControl) >= 0 {
		return RoomKey{}, fmt.Errorf("room contains control characters")
	}

	kind, rest, ok := strings.Cut(room, "/")
	if !ok {
		return RoomKey{}, fmt.Errorf("invalid room format %q, expected kind/name or kind/name:id", room)
	}

	name, id, hasID := strings.Cut(rest, ":")

	key := RoomKey{Kind: kind, Name: name, ID: id}

	parts := []roomPart{
		{field: "kind", value: kind},
		{field: "name", value: name},
	}
	if hasID {
		parts = append(parts, roomPart{field: "id", value: id})
	}

	for _, part := range parts {
		if part.value == "" {
			return RoomKey{}, fmt.Errorf("room %s cannot be empty in %q", part.field, room)
		}
	}

	return key, nil
}
