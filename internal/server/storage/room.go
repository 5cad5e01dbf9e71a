package storage

import (
	"context"

	"github.com/iudanet/roomsync/internal/models"
)

// RoomData defines persistence of a single room's update log and awareness list.
// A RoomData value is only valid inside the WithRoom callback that produced it.
// Reading a room that was never written returns empty slices, never an error.
type RoomData interface {
	// AppendUpdate appends an envelope to the end of the room log
	AppendUpdate(ctx context.Context, envelope *models.UpdateEnvelope) error

	// GetAllUpdates returns every stored envelope.
	// Order is not guaranteed to match insertion order across backends.
	GetAllUpdates(ctx context.Context) ([]*models.UpdateEnvelope, error)

	// ReplaceAllUpdates atomically replaces the whole room log
	ReplaceAllUpdates(ctx context.Context, envelopes []*models.UpdateEnvelope) error

	// GetAwareness returns stored awareness entries (expired ones included)
	GetAwareness(ctx context.Context) ([]*models.AwarenessEntry, error)

	// SetAwareness replaces stored awareness entries
	SetAwareness(ctx context.Context, entries []*models.AwarenessEntry) error
}

// RoomStorage defines the storage adapter contract.
type RoomStorage interface {
	// WithRoom runs fn with exclusive access to the room's data.
	// Concurrent WithRoom calls for the same room are serialized; different rooms
	// may proceed in parallel. If fn returns an error the backend discards
	// the writes made through RoomData when it is able to (transactional backends).
	WithRoom(ctx context.Context, room string, fn func(ctx context.Context, data RoomData) error) error

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	// Close releases backend resources
	Close() error
}
