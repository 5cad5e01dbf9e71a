package boltdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/roomsync/internal/server/storage"
)

var (
	// BoltDB bucket names
	bucketRooms = []byte("rooms")

	// вложенные ключи внутри bucket'а комнаты
	bucketUpdates = []byte("updates")
	keyAwareness  = []byte("awareness")
)

// Storage represents BoltDB storage implementation.
// Each room is a nested bucket under "rooms", holding an "updates" bucket
// (sequence key -> JSON envelope) and an "awareness" JSON document,
// i.e. the room is a set of key-value attachments.
type Storage struct {
	db *bbolt.DB
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	// Открываем BoltDB; Timeout защищает от вечного ожидания file lock
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db}

	// Инициализируем buckets
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies that the database can serve a read transaction
func (s *Storage) Ping(ctx context.Context) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketRooms) == nil {
			return fmt.Errorf("rooms bucket not found")
		}
		return nil
	})
	return closedErr(err)
}

// WithRoom runs fn inside a bbolt write transaction.
// bbolt allows a single writer, so room cycles never interleave.
// An error returned by fn rolls the transaction back.
func (s *Storage) WithRoom(ctx context.Context, room string, fn func(ctx context.Context, data storage.RoomData) error) error {
	if room == "" {
		return storage.ErrEmptyRoom
	}
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		rooms := tx.Bucket(bucketRooms)
		if rooms == nil {
			return fmt.Errorf("rooms bucket not found")
		}

		bucket, err := rooms.CreateBucketIfNotExists([]byte(room))
		if err != nil {
			return fmt.Errorf("failed to create room bucket: %w", err)
		}

		return fn(ctx, &roomData{bucket: bucket})
	})
	return closedErr(err)
}

// closedErr заменяет ошибку bbolt о закрытой базе на storage.ErrStorageClosed
func closedErr(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %w", storage.ErrStorageClosed, err)
	}
	return err
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRooms); err != nil {
			return fmt.Errorf("failed to create rooms bucket: %w", err)
		}
		return nil
	})
}
