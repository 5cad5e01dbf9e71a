package boltdb

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/iudanet/roomsync/internal/client/storage"
	"github.com/iudanet/roomsync/pkg/api"
)

var keyClientID = []byte("client_id")

// maxClientID держит client_id в диапазоне, безопасном для JSON чисел
const maxClientID = 1<<53 - 1

var _ storage.RoomStateStorage = (*Storage)(nil)

// ClientID возвращает сохраненный client_id или генерирует новый
func (s *Storage) ClientID(ctx context.Context) (int64, error) {
	var id int64

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if raw := bucket.Get(keyClientID); raw != nil {
			id = int64(binary.BigEndian.Uint64(raw))
			return nil
		}

		generated, err := randomClientID()
		if err != nil {
			return err
		}
		id = generated
		return bucket.Put(keyClientID, uint64Bytes(uint64(id)))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get client id: %w", err)
	}

	return id, nil
}

// SetClientID фиксирует client_id (например, заданный флагом)
func (s *Storage) SetClientID(ctx context.Context, id int64) error {
	if id < 1 {
		return fmt.Errorf("client id must be >= 1, got %d", id)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyClientID, uint64Bytes(uint64(id)))
	})
}

// GetCursor retrieves the end cursor of the last successful poll
// Returns 0 if the room has not been polled yet
func (s *Storage) GetCursor(ctx context.Context, room string) (int64, error) {
	if room == "" {
		return 0, storage.ErrInvalidRoom
	}

	var cursor int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketCursors).Get([]byte(room))
		if raw != nil {
			cursor = int64(binary.BigEndian.Uint64(raw))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}

	return cursor, nil
}

// SaveCursor saves the end cursor of the last successful poll
func (s *Storage) SaveCursor(ctx context.Context, room string, cursor int64) error {
	if room == "" {
		return storage.ErrInvalidRoom
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCursors).Put([]byte(room), uint64Bytes(uint64(cursor)))
	})
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Enqueue добавляет обновление в очередь комнаты
func (s *Storage) Enqueue(ctx context.Context, room string, update api.TypedUpdate) error {
	if room == "" {
		return storage.ErrInvalidRoom
	}

	value, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket(bucketPending).CreateBucketIfNotExists([]byte(room))
		if err != nil {
			return err
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(uint64Bytes(seq), value)
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue update: %w", err)
	}
	return nil
}

// Pending возвращает очередь комнаты в порядке добавления
func (s *Storage) Pending(ctx context.Context, room string) ([]storage.PendingUpdate, error) {
	if room == "" {
		return nil, storage.ErrInvalidRoom
	}

	var result []storage.PendingUpdate
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending).Bucket([]byte(room))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var update api.TypedUpdate
			if err := json.Unmarshal(v, &update); err != nil {
				return fmt.Errorf("failed to unmarshal pending update: %w", err)
			}
			result = append(result, storage.PendingUpdate{
				Seq:    binary.BigEndian.Uint64(k),
				Update: update,
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending updates: %w", err)
	}

	return result, nil
}

// Ack удаляет из очереди обновления с Seq <= upTo
func (s *Storage) Ack(ctx context.Context, room string, upTo uint64) error {
	if room == "" {
		return storage.ErrInvalidRoom
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPending).Bucket([]byte(room))
		if bucket == nil {
			return nil
		}

		// Собираем ключи заранее: удаление во время обхода курсором пропускает элементы
		var keys [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= upTo; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack pending updates: %w", err)
	}
	return nil
}

// Rooms возвращает комнаты, для которых есть курсор или очередь
func (s *Storage) Rooms(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	err := s.db.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketCursors).ForEach(func(k, _ []byte) error {
			seen[string(k)] = struct{}{}
			return nil
		}); err != nil {
			return err
		}

		// Вложенные buckets очереди имеют nil значение
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			if v == nil {
				seen[string(k)] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms := make([]string, 0, len(seen))
	for room := range seen {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms, nil
}

func randomClientID() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to generate client id: %w", err)
	}
	return int64(binary.BigEndian.Uint64(buf[:])%maxClientID) + 1, nil
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
