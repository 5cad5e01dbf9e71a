// Package storagetest contains behaviour checks shared by every storage.RoomStorage backend.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/roomsync/internal/models"
	"github.com/iudanet/roomsync/internal/server/storage"
)

// Factory creates a fresh, empty backend for a single test
type Factory func(t *testing.T) storage.RoomStorage

// Run executes the shared checks against the backend built by newStorage
func Run(t *testing.T, newStorage Factory) {
	t.Run("UnknownRoomIsEmpty", func(t *testing.T) { testUnknownRoomIsEmpty(t, newStorage(t)) })
	t.Run("AppendAndRead", func(t *testing.T) { testAppendAndRead(t, newStorage(t)) })
	t.Run("ReplaceAll", func(t *testing.T) { testReplaceAll(t, newStorage(t)) })
	t.Run("Awareness", func(t *testing.T) { testAwareness(t, newStorage(t)) })
	t.Run("RoomsAreIsolated", func(t *testing.T) { testRoomsAreIsolated(t, newStorage(t)) })
	t.Run("CallbackError", func(t *testing.T) { testCallbackError(t, newStorage(t)) })
	t.Run("SerializedAccess", func(t *testing.T) { testSerializedAccess(t, newStorage(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStorage(t).Ping(context.Background())) })
}

func envelope(clientID, ts int64, typ models.UpdateType, data string) *models.UpdateEnvelope {
	return &models.UpdateEnvelope{
		ClientID:  clientID,
		Type:      typ,
		Data:      []byte(data),
		Timestamp: ts,
	}
}

func readAll(t *testing.T, s storage.RoomStorage, room string) []*models.UpdateEnvelope {
	t.Helper()

	var result []*models.UpdateEnvelope
	err := s.WithRoom(context.Background(), room, func(ctx context.Context, data storage.RoomData) error {
		var err error
		result, err = data.GetAllUpdates(ctx)
		return err
	})
	require.NoError(t, err)

	models.SortByTimestamp(result)
	return result
}

func testUnknownRoomIsEmpty(t *testing.T, s storage.RoomStorage) {
	err := s.WithRoom(context.Background(), "postType/post:404", func(ctx context.Context, data storage.RoomData) error {
		updates, err := data.GetAllUpdates(ctx)
		require.NoError(t, err)
		assert.Empty(t, updates)

		awareness, err := data.GetAwareness(ctx)
		require.NoError(t, err)
		assert.Empty(t, awareness)
		return nil
	})
	require.NoError(t, err)
}

func testAppendAndRead(t *testing.T, s storage.RoomStorage) {
	room := "postType/post:1"
	want := []*models.UpdateEnvelope{
		envelope(1, 100, models.UpdateTypeSyncStep1, "sv"),
		envelope(2, 101, models.UpdateTypeUpdate, "delta"),
		envelope(1, 102, models.UpdateTypeCompaction, "snapshot"),
	}

	err := s.WithRoom(context.Background(), room, func(ctx context.Context, data storage.RoomData) error {
		for _, e := range want {
			if err := data.AppendUpdate(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	got := readAll(t, s, room)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ClientID, got[i].ClientID)
		assert.Equal(t, want[i].Type, got[i].Type)
		assert.Equal(t, want[i].Data, got[i].Data)
		assert.Equal(t, want[i].Timestamp, got[i].Timestamp)
	}
}

func testReplaceAll(t *testing.T, s storage.RoomStorage) {
	room := "root/site"

	err := s.WithRoom(context.Background(), room, func(ctx context.Context, data storage.RoomData) error {
		for ts := int64(1); ts <= 5; ts++ {
			if err := data.AppendUpdate(ctx, envelope(1, ts, models.UpdateTypeUpdate, fmt.Sprint(ts))); err != nil {
				return err
			}
		}
		return data.ReplaceAllUpdates(ctx, []*models.UpdateEnvelope{
			envelope(1, 4, models.UpdateTypeUpdate, "4"),
			envelope(1, 5, models.UpdateTypeUpdate, "5"),
		})
	})
	require.NoError(t, err)

	got := readAll(t, s, room)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].Timestamp)
	assert.Equal(t, int64(5), got[1].Timestamp)

	// Пустая замена очищает журнал
	err = s.WithRoom(context.Background(), room, func(ctx context.Context, data storage.RoomData) error {
		return data.ReplaceAllUpdates(ctx, nil)
	})
	require.NoError(t, err)
	assert.Empty(t, readAll(t, s, room))
}

func testAwareness(t *testing.T, s storage.RoomStorage) {
	room := "postType/page:9"
	entries := []*models.AwarenessEntry{
		{ClientID: 3, State: json.RawMessage(`{"name":"alice"}`), UpdatedAt: 1000},
		{ClientID: 5, State: json.RawMessage(`{"name":"bob"}`), UpdatedAt: 1001},
	}

	err := s.WithRoom(context.Background(), room, func(ctx context.Context, data storage.RoomData) error {
		return data.SetAwareness(ctx, entries)
	})
	require.NoError(t, err)

	err = s.WithRoom(context.Background(), room, func(ctx context.Context, data storage.RoomData) error {
		got, err := data.GetAwareness(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)

		byClient := make(map[int64]*models.AwarenessEntry)
		for _, e := range got {
			byClient[e.ClientID] = e
		}
		assert.JSONEq(t, `{"name":"alice"}`, string(byClient[3].State))
		assert.Equal(t, int64(1000), byClient[3].UpdatedAt)
		assert.JSONEq(t, `{"name":"bob"}`, string(byClient[5].State))

		// Перезапись заменяет список целиком
		return data.SetAwareness(ctx, entries[1:])
	})
	require.NoError(t, err)

	err = s.WithRoom(context.Background(), room, func(ctx context.Context, data storage.RoomData) error {
		got, err := data.GetAwareness(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(5), got[0].ClientID)
		return nil
	})
	require.NoError(t, err)
}

func testRoomsAreIsolated(t *testing.T, s storage.RoomStorage) {
	err := s.WithRoom(context.Background(), "taxonomy/category", func(ctx context.Context, data storage.RoomData) error {
		return data.AppendUpdate(ctx, envelope(1, 1, models.UpdateTypeUpdate, "a"))
	})
	require.NoError(t, err)

	assert.Len(t, readAll(t, s, "taxonomy/category"), 1)
	assert.Empty(t, readAll(t, s, "taxonomy/post_tag"))
}

func testCallbackError(t *testing.T, s storage.RoomStorage) {
	boom := errors.New("boom")

	err := s.WithRoom(context.Background(), "postType/post:2", func(ctx context.Context, data storage.RoomData) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// Комната остается доступной после ошибки
	err = s.WithRoom(context.Background(), "postType/post:2", func(ctx context.Context, data storage.RoomData) error {
		return nil
	})
	assert.NoError(t, err)
}

// testSerializedAccess проверяет, что read-modify-write циклы одной комнаты не теряют записи
func testSerializedAccess(t *testing.T, s storage.RoomStorage) {
	room := "postType/post:77"
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.WithRoom(context.Background(), room, func(ctx context.Context, data storage.RoomData) error {
				existing, err := data.GetAllUpdates(ctx)
				if err != nil {
					return err
				}
				next := append(existing, envelope(int64(i+1), int64(len(existing)+1), models.UpdateTypeUpdate, "x"))
				return data.ReplaceAllUpdates(ctx, next)
			})
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, readAll(t, s, room), workers)
}
