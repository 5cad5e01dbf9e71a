package memory

import (
	"context"
	"sync"

	"github.com/iudanet/roomsync/internal/models"
	"github.com/iudanet/roomsync/internal/server/storage"
)

// room holds one room's state guarded by its own mutex
type room struct {
	updates   []*models.UpdateEnvelope
	awareness []*models.AwarenessEntry
	mu        sync.Mutex
}

// Storage represents in-memory storage implementation.
// Data is lost on restart; useful for a single instance and for tests.
type Storage struct {
	rooms  map[string]*room
	mu     sync.Mutex
	closed bool
}

// New creates a new in-memory storage
func New() *Storage {
	return &Storage{
		rooms: make(map[string]*room),
	}
}

// WithRoom runs fn holding the room mutex
func (s *Storage) WithRoom(ctx context.Context, key string, fn func(ctx context.Context, data storage.RoomData) error) error {
	if key == "" {
		return storage.ErrEmptyRoom
	}

	r, err := s.room(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return fn(ctx, &roomData{room: r})
}

// room возвращает комнату, создавая её при первом обращении
func (s *Storage) room(key string) (*room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	r, ok := s.rooms[key]
	if !ok {
		r = &room{}
		s.rooms[key] = r
	}
	return r, nil
}

// Ping reports whether storage is still open
func (s *Storage) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStorageClosed
	}
	return nil
}

// Close drops all rooms
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.rooms = nil
	return nil
}

// roomData implements storage.RoomData over a locked room
type roomData struct {
	room *room
}

func (d *roomData) AppendUpdate(ctx context.Context, envelope *models.UpdateEnvelope) error {
	d.room.updates = append(d.room.updates, envelope.Clone())
	return nil
}

func (d *roomData) GetAllUpdates(ctx context.Context) ([]*models.UpdateEnvelope, error) {
	result := make([]*models.UpdateEnvelope, 0, len(d.room.updates))
	for _, e := range d.room.updates {
		result = append(result, e.Clone())
	}
	return result, nil
}

func (d *roomData) ReplaceAllUpdates(ctx context.Context, envelopes []*models.UpdateEnvelope) error {
	updates := make([]*models.UpdateEnvelope, 0, len(envelopes))
	for _, e := range envelopes {
		updates = append(updates, e.Clone())
	}
	d.room.updates = updates
	return nil
}

func (d *roomData) GetAwareness(ctx context.Context) ([]*models.AwarenessEntry, error) {
	result := make([]*models.AwarenessEntry, 0, len(d.room.awareness))
	for _, a := range d.room.awareness {
		result = append(result, a.Clone())
	}
	return result, nil
}

func (d *roomData) SetAwareness(ctx context.Context, entries []*models.AwarenessEntry) error {
	awareness := make([]*models.AwarenessEntry, 0, len(entries))
	for _, a := range entries {
		awareness = append(awareness, a.Clone())
	}
	d.room.awareness = awareness
	return nil
}
