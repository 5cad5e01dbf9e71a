package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/roomsync/internal/models"
	"github.com/iudanet/roomsync/internal/server/storage"
	"github.com/iudanet/roomsync/internal/server/storage/storagetest"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	s, err := New(Config{Client: client, LockWait: time.Second}, setupTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.RoomStorage {
		s, _ := setupTestStorage(t)
		return s
	})
}

func TestNew_RequiresClient(t *testing.T) {
	s, err := New(Config{}, setupTestLogger())
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := Open(context.Background(), "redis://"+mr.Addr()+"/0", setupTestLogger())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.NoError(t, s.Ping(context.Background()))
}

func TestOpen_InvalidURL(t *testing.T) {
	s, err := Open(context.Background(), "not-a-url", setupTestLogger())
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestWithRoom_FlushesOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestStorage(t)

	err := s.WithRoom(ctx, "root/site", func(ctx context.Context, data storage.RoomData) error {
		require.NoError(t, data.AppendUpdate(ctx, &models.UpdateEnvelope{ClientID: 1, Type: models.UpdateTypeUpdate, Data: []byte("x"), Timestamp: 1}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.False(t, mr.Exists("roomsync:room:root/site:updates"))

	err = s.WithRoom(ctx, "root/site", func(ctx context.Context, data storage.RoomData) error {
		return data.AppendUpdate(ctx, &models.UpdateEnvelope{ClientID: 1, Type: models.UpdateTypeUpdate, Data: []byte("x"), Timestamp: 1})
	})
	require.NoError(t, err)

	values, err := mr.List("roomsync:room:root/site:updates")
	require.NoError(t, err)
	assert.Len(t, values, 1)
}

func TestWithRoom_ReleasesLock(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestStorage(t)

	err := s.WithRoom(ctx, "root/site", func(ctx context.Context, data storage.RoomData) error {
		assert.True(t, mr.Exists("roomsync:room:root/site:lock"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("roomsync:room:root/site:lock"))
}

func TestWithRoom_LockedRoom(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	s, err := New(Config{Client: client, LockWait: 50 * time.Millisecond}, setupTestLogger())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// Lock удерживается другим экземпляром
	require.NoError(t, mr.Set("roomsync:room:root/site:lock", "someone-else"))

	called := false
	err = s.WithRoom(ctx, "root/site", func(ctx context.Context, data storage.RoomData) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, storage.ErrRoomLocked)
	assert.False(t, called)

	// Чужой lock не удален
	got, err := mr.Get("roomsync:room:root/site:lock")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestWithRoom_CustomPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	s, err := New(Config{Client: client, KeyPrefix: "test"}, setupTestLogger())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	err = s.WithRoom(ctx, "root/site", func(ctx context.Context, data storage.RoomData) error {
		return data.SetAwareness(ctx, []*models.AwarenessEntry{{ClientID: 2, State: []byte(`{"a":1}`), UpdatedAt: 10}})
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:room:root/site:awareness"))
}

func TestPing_Closed(t *testing.T) {
	s, _ := setupTestStorage(t)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(context.Background()), storage.ErrStorageClosed)
}
