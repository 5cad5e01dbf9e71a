package roomsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/roomsync/internal/clock"
	"github.com/iudanet/roomsync/internal/models"
	"github.com/iudanet/roomsync/internal/server/access"
	"github.com/iudanet/roomsync/internal/server/metrics"
	"github.com/iudanet/roomsync/internal/server/storage"
	"github.com/iudanet/roomsync/internal/server/storage/memory"
	"github.com/iudanet/roomsync/internal/validation"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// manualTime источник времени для детерминированных тестов
type manualTime struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// recordingStorage считает вызовы WithRoom и может ломать отдельные комнаты
type recordingStorage struct {
	storage.RoomStorage
	mu      sync.Mutex
	calls   int
	failing map[string]error
}

func (r *recordingStorage) WithRoom(ctx context.Context, room string, fn func(ctx context.Context, data storage.RoomData) error) error {
	r.mu.Lock()
	r.calls++
	err := r.failing[room]
	r.mu.Unlock()

	if err != nil {
		return err
	}
	return r.RoomStorage.WithRoom(ctx, room, fn)
}

// denyAuthorizer запрещает перечисленные комнаты
type denyAuthorizer struct {
	denied map[string]bool
	err    error
}

func (d *denyAuthorizer) Authorize(ctx context.Context, principal access.Principal, rooms []validation.RoomKey) error {
	if d.err != nil {
		return d.err
	}
	for _, room := range rooms {
		if d.denied[room.String()] {
			return fmt.Errorf("%w: %s", access.ErrDenied, room)
		}
	}
	return nil
}

type testEnv struct {
	service *Service
	storage *recordingStorage
	time    *manualTime
}

func setupTestService(t *testing.T, authorizer access.Authorizer) *testEnv {
	t.Helper()

	mt := &manualTime{now: time.UnixMilli(1_700_000_000_000)}
	store := &recordingStorage{RoomStorage: memory.New(), failing: map[string]error{}}

	svc := NewService(
		setupTestLogger(),
		store,
		authorizer,
		metrics.NewNop(),
		clock.NewWithSource(mt.Now),
		DefaultConfig(),
	)

	return &testEnv{service: svc, storage: store, time: mt}
}

var principal = access.Principal{UserID: "u1", Username: "alice", Role: access.RoleEditor}

func (e *testEnv) process(t *testing.T, requests ...models.RoomRequest) []models.RoomResponse {
	t.Helper()

	responses, err := e.service.Process(context.Background(), principal, requests)
	require.NoError(t, err)
	require.Len(t, responses, len(requests))
	return responses
}

func update(data string) models.TypedUpdate {
	return models.TypedUpdate{Type: models.UpdateTypeUpdate, Data: []byte(data)}
}

func dataOf(updates []models.TypedUpdate) []string {
	result := make([]string, 0, len(updates))
	for _, u := range updates {
		result = append(result, string(u.Data))
	}
	return result
}

func TestService_EndToEnd(t *testing.T) {
	env := setupTestService(t, access.AllowAll{})

	// Клиент 3 публикует "A" и объявляет присутствие
	resp := env.process(t, models.RoomRequest{
		Room:      "doc/1",
		ClientID:  3,
		After:     0,
		Awareness: json.RawMessage(`{"user":"c3"}`),
		Updates:   []models.TypedUpdate{update("A")},
	})[0]
	require.NoError(t, resp.Err)
	assert.Empty(t, resp.Updates, "own update is not echoed")
	assert.Equal(t, 1, resp.TotalUpdates)
	assert.Nil(t, resp.CompactionRequest)

	env.time.Advance(time.Second)

	// Клиент 5 опрашивает комнату с начала
	resp = env.process(t, models.RoomRequest{
		Room:      "doc/1",
		ClientID:  5,
		After:     0,
		Awareness: json.RawMessage(`{"user":"c5"}`),
	})[0]
	require.NoError(t, resp.Err)
	assert.Equal(t, []string{"A"}, dataOf(resp.Updates))
	assert.Equal(t, models.UpdateTypeUpdate, resp.Updates[0].Type)
	assert.Equal(t, 1, resp.TotalUpdates)
	assert.JSONEq(t, `{"user":"c3"}`, string(resp.Awareness[3]))
	assert.Contains(t, resp.Awareness, int64(5))
	assert.Equal(t, time.UnixMilli(1_700_000_000_000).Add(time.Second).UnixMilli()-100, resp.EndCursor)

	// Следующий опрос с end_cursor ничего нового не приносит
	env.time.Advance(time.Second)
	resp = env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 5, After: resp.EndCursor})[0]
	require.NoError(t, resp.Err)
	assert.Empty(t, resp.Updates)
}

func TestService_NoSelfDelivery(t *testing.T) {
	env := setupTestService(t, access.AllowAll{})

	env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 3, Updates: []models.TypedUpdate{update("A"), update("B")}})
	env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 4, Updates: []models.TypedUpdate{update("C")}})

	resp := env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 3})[0]
	assert.Equal(t, []string{"C"}, dataOf(resp.Updates))
	assert.Equal(t, 3, resp.TotalUpdates)
}

func TestService_CompactionThreshold(t *testing.T) {
	tests := []struct {
		name        string
		seeded      int
		clientID    int64
		wantRequest bool
	}{
		{name: "leader at threshold", seeded: 50, clientID: 1, wantRequest: false},
		{name: "leader above threshold", seeded: 51, clientID: 1, wantRequest: true},
		{name: "non-leader above threshold", seeded: 51, clientID: 2, wantRequest: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestService(t, access.AllowAll{})

			// Оба клиента присутствуют в комнате
			env.process(t,
				models.RoomRequest{Room: "doc/1", ClientID: 1, Awareness: json.RawMessage(`{}`)},
				models.RoomRequest{Room: "doc/1", ClientID: 2, Awareness: json.RawMessage(`{}`)},
			)

			updates := make([]models.TypedUpdate, 0, tt.seeded)
			for i := 0; i < tt.seeded; i++ {
				updates = append(updates, update(fmt.Sprintf("u%d", i)))
			}
			env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 9, Updates: updates})

			resp := env.process(t, models.RoomRequest{Room: "doc/1", ClientID: tt.clientID, Awareness: json.RawMessage(`{}`)})[0]
			require.NoError(t, resp.Err)
			assert.Equal(t, tt.seeded, resp.TotalUpdates)

			if tt.wantRequest {
				require.Len(t, resp.CompactionRequest, tt.seeded)
				assert.Equal(t, "u0", string(resp.CompactionRequest[0].Data))
				assert.Equal(t, int64(9), resp.CompactionRequest[0].ClientID)
			} else {
				assert.Nil(t, resp.CompactionRequest)
			}
		})
	}
}

func TestService_SelfNominationInAnnouncingRequest(t *testing.T) {
	env := setupTestService(t, access.AllowAll{})

	updates := make([]models.TypedUpdate, 0, 51)
	for i := 0; i < 51; i++ {
		updates = append(updates, update("x"))
	}
	env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 9, Updates: updates})

	// Клиент 2 впервые объявляет присутствие и сразу становится компактором
	resp := env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 2, Awareness: json.RawMessage(`{}`)})[0]
	assert.Len(t, resp.CompactionRequest, 51)
}

func TestService_NoLeaderWithoutAwareness(t *testing.T) {
	env := setupTestService(t, access.AllowAll{})

	updates := make([]models.TypedUpdate, 0, 60)
	for i := 0; i < 60; i++ {
		updates = append(updates, update("x"))
	}
	resp := env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 1, Updates: updates})[0]

	assert.Empty(t, resp.Awareness)
	assert.Nil(t, resp.CompactionRequest)
}

func TestService_LeaderLeavingWithNullAwareness(t *testing.T) {
	env := setupTestService(t, access.AllowAll{})

	env.process(t,
		models.RoomRequest{Room: "doc/1", ClientID: 1, Awareness: json.RawMessage(`{}`)},
		models.RoomRequest{Room: "doc/1", ClientID: 5, Awareness: json.RawMessage(`{}`)},
	)

	updates := make([]models.TypedUpdate, 0, 51)
	for i := 0; i < 51; i++ {
		updates = append(updates, update("x"))
	}
	env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 9, Updates: updates})

	// Клиент 1 уходит из комнаты, прислав null
	resp := env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 1, Awareness: json.RawMessage(`null`)})[0]
	require.NoError(t, resp.Err)
	assert.NotContains(t, resp.Awareness, int64(1))
	assert.Nil(t, resp.CompactionRequest)

	// Лидерство переходит к следующему живому клиенту
	resp = env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 5, Awareness: json.RawMessage(`{}`)})[0]
	assert.NotContains(t, resp.Awareness, int64(1))
	assert.Len(t, resp.CompactionRequest, 51)
}

func TestService_CompactionRoundTrip(t *testing.T) {
	env := setupTestService(t, access.AllowAll{})

	env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 1, Awareness: json.RawMessage(`{}`)})

	updates := make([]models.TypedUpdate, 0, 51)
	for i := 0; i < 51; i++ {
		updates = append(updates, update("x"))
	}
	env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 7, Updates: updates})

	env.time.Advance(time.Second)
	resp := env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 1, Awareness: json.RawMessage(`{}`)})[0]
	require.Len(t, resp.CompactionRequest, 51)
	cursor := resp.EndCursor

	// Пока компактор работает, клиент 7 пишет новое обновление
	env.time.Advance(10 * time.Millisecond)
	env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 7, Updates: []models.TypedUpdate{update("late")}})

	// Компактор присылает snapshot; второй компактор с тем же курсором опаздывает
	resp = env.process(t, models.RoomRequest{
		Room:      "doc/1",
		ClientID:  1,
		After:     cursor,
		Awareness: json.RawMessage(`{}`),
		Updates:   []models.TypedUpdate{{Type: models.UpdateTypeCompaction, Data: []byte("snapshot")}},
	})[0]
	require.NoError(t, resp.Err)
	assert.Equal(t, 2, resp.TotalUpdates, "late update and snapshot remain")
	assert.Equal(t, []string{"late", "snapshot"}, dataOf(resp.Updates), "compactor sees its own compaction")

	resp = env.process(t, models.RoomRequest{
		Room:     "doc/1",
		ClientID: 2,
		After:    cursor,
		Updates:  []models.TypedUpdate{{Type: models.UpdateTypeCompaction, Data: []byte("stale")}},
	})[0]
	require.NoError(t, resp.Err)
	assert.Equal(t, 2, resp.TotalUpdates)
	assert.NotContains(t, dataOf(resp.Updates), "stale")

	// Новый клиент получает snapshot и свежие обновления
	resp = env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 8})[0]
	assert.Equal(t, []string{"late", "snapshot"}, dataOf(resp.Updates))
}

func TestService_AwarenessExpiry(t *testing.T) {
	env := setupTestService(t, access.AllowAll{})

	env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 3, Awareness: json.RawMessage(`{"n":3}`)})
	env.time.Advance(29 * time.Second)

	resp := env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 5})[0]
	assert.Contains(t, resp.Awareness, int64(3))

	env.time.Advance(time.Second)
	resp = env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 5})[0]
	assert.NotContains(t, resp.Awareness, int64(3))
}

func TestService_RoomsAreIndependent(t *testing.T) {
	env := setupTestService(t, access.AllowAll{})
	boom := errors.New("disk on fire")
	env.storage.failing["doc/broken"] = boom

	responses, err := env.service.Process(context.Background(), principal, []models.RoomRequest{
		{Room: "doc/1", ClientID: 3, Updates: []models.TypedUpdate{update("A")}},
		{Room: "doc/broken", ClientID: 3, Updates: []models.TypedUpdate{update("B")}},
		{Room: "doc/2", ClientID: 3, Updates: []models.TypedUpdate{update("C")}},
	})
	require.NoError(t, err)
	require.Len(t, responses, 3)

	assert.NoError(t, responses[0].Err)
	assert.Equal(t, 1, responses[0].TotalUpdates)

	assert.ErrorIs(t, responses[1].Err, boom)
	assert.Equal(t, "doc/broken", responses[1].Room)
	assert.Empty(t, responses[1].Updates)

	assert.NoError(t, responses[2].Err)
	assert.Equal(t, "doc/2", responses[2].Room)
}

func TestService_Forbidden(t *testing.T) {
	env := setupTestService(t, &denyAuthorizer{denied: map[string]bool{"doc/secret": true}})

	responses, err := env.service.Process(context.Background(), principal, []models.RoomRequest{
		{Room: "doc/1", ClientID: 3, Updates: []models.TypedUpdate{update("A")}},
		{Room: "doc/secret", ClientID: 3},
	})
	require.ErrorIs(t, err, ErrForbidden)
	assert.Nil(t, responses)
	assert.Zero(t, env.storage.calls, "storage must not be touched")
}

func TestService_AuthorizerFailure(t *testing.T) {
	env := setupTestService(t, &denyAuthorizer{err: errors.New("policy unavailable")})

	_, err := env.service.Process(context.Background(), principal, []models.RoomRequest{{Room: "doc/1", ClientID: 3}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrForbidden)
	assert.Zero(t, env.storage.calls)
}

func TestService_InvalidRequest(t *testing.T) {
	tests := []struct {
		name    string
		request models.RoomRequest
		errMsg  string
	}{
		{name: "malformed room", request: models.RoomRequest{Room: "nokind", ClientID: 1}, errMsg: "rooms[1].room"},
		{name: "zero client id", request: models.RoomRequest{Room: "doc/1", ClientID: 0}, errMsg: "client_id"},
		{name: "negative cursor", request: models.RoomRequest{Room: "doc/1", ClientID: 1, After: -1}, errMsg: "after"},
		{
			name:    "unknown update type",
			request: models.RoomRequest{Room: "doc/1", ClientID: 1, Updates: []models.TypedUpdate{{Type: "delete", Data: []byte("x")}}},
			errMsg:  "rooms[1].updates[0].type",
		},
		{
			name:    "missing data",
			request: models.RoomRequest{Room: "doc/1", ClientID: 1, Updates: []models.TypedUpdate{{Type: models.UpdateTypeUpdate}}},
			errMsg:  "data is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestService(t, access.AllowAll{})

			// Первая комната корректна: batch отклоняется целиком
			responses, err := env.service.Process(context.Background(), principal, []models.RoomRequest{
				{Room: "doc/ok", ClientID: 1, Updates: []models.TypedUpdate{update("A")}},
				tt.request,
			})
			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Nil(t, responses)
			assert.Zero(t, env.storage.calls)
		})
	}
}

func TestService_ConcurrentWritersLoseNothing(t *testing.T) {
	env := setupTestService(t, access.AllowAll{})

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(clientID int64) {
			defer wg.Done()
			_, err := env.service.Process(context.Background(), principal, []models.RoomRequest{
				{Room: "doc/1", ClientID: clientID, Updates: []models.TypedUpdate{update("x")}},
			})
			assert.NoError(t, err)
		}(int64(i + 1))
	}
	wg.Wait()

	resp := env.process(t, models.RoomRequest{Room: "doc/1", ClientID: 100})[0]
	assert.Equal(t, writers, resp.TotalUpdates)
	assert.Len(t, resp.Updates, writers)
}

func TestNewService_DefaultThreshold(t *testing.T) {
	svc := NewService(setupTestLogger(), memory.New(), access.AllowAll{}, metrics.NewNop(), clock.New(), Config{})
	assert.Equal(t, DefaultCompactionThreshold, svc.threshold)
}
