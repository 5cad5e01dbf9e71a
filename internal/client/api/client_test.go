package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/roomsync/pkg/api"
)

// TestNewClient проверяет создание нового клиента
func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080"
	client := NewClient(baseURL)

	assert.NotNil(t, client)
	assert.Equal(t, baseURL, client.baseURL)
	assert.NotNil(t, client.httpClient)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
}

func TestClient_Sync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, SyncPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		var req api.SyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Rooms, 1)
		assert.Equal(t, "doc/1", req.Rooms[0].Room)
		assert.Equal(t, int64(3), req.Rooms[0].ClientID)
		require.Len(t, req.Rooms[0].Updates, 1)
		require.NotNil(t, req.Rooms[0].Updates[0].Data)
		assert.Equal(t, "QQ==", *req.Rooms[0].Updates[0].Data)

		_ = json.NewEncoder(w).Encode(api.SyncResponse{Rooms: []api.RoomResponse{{
			Room:         "doc/1",
			Awareness:    map[int64]json.RawMessage{3: json.RawMessage(`{"name":"a"}`)},
			Updates:      []api.TypedUpdate{{Type: api.UpdateTypeUpdate, Data: "Qg=="}},
			TotalUpdates: 2,
			EndCursor:    1234,
		}}})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.Sync(context.Background(), "token-1", api.SyncRequest{Rooms: []api.RoomRequest{{
		Room:     "doc/1",
		ClientID: 3,
		Updates:  []api.UpdateInput{api.NewUpdateInput(api.UpdateTypeUpdate, "QQ==")},
	}}})

	require.NoError(t, err)
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, int64(1234), resp.Rooms[0].EndCursor)
	assert.Equal(t, 2, resp.Rooms[0].TotalUpdates)
	assert.Equal(t, "Qg==", resp.Rooms[0].Updates[0].Data)
}

func TestClient_Sync_Errors(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		status        int
		wantMessage   string
		wantTemporary bool
	}{
		{
			name:        "forbidden",
			status:      http.StatusForbidden,
			body:        `{"error":"forbidden","message":"access denied"}`,
			wantMessage: "forbidden: access denied",
		},
		{
			name:        "bad request",
			status:      http.StatusBadRequest,
			body:        `{"error":"invalid request"}`,
			wantMessage: "invalid request",
		},
		{
			name:          "too many requests",
			status:        http.StatusTooManyRequests,
			body:          `{"error":"rate limit exceeded"}`,
			wantMessage:   "rate limit exceeded",
			wantTemporary: true,
		},
		{
			name:          "plain text 502",
			status:        http.StatusBadGateway,
			body:          "upstream down",
			wantMessage:   "upstream down",
			wantTemporary: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL).Sync(context.Background(), "t", api.SyncRequest{Rooms: []api.RoomRequest{}})
			require.Error(t, err)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.Code)
			assert.Equal(t, tt.wantMessage, statusErr.Message)
			assert.Equal(t, tt.wantTemporary, IsTemporary(err))
		})
	}
}

func TestClient_Sync_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Sync(context.Background(), "t", api.SyncRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestClient_Sync_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(server.URL).Sync(ctx, "t", api.SyncRequest{})
	require.Error(t, err)
	assert.False(t, IsTemporary(err))
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(api.HealthResponse{Status: "ok", Storage: "bolt"})
	}))
	defer server.Close()

	resp, err := NewClient(server.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "bolt", resp.Storage)
}

func TestIsTemporary(t *testing.T) {
	assert.True(t, IsTemporary(fmt.Errorf("dial: %w", errors.New("connection refused"))))
	assert.False(t, IsTemporary(fmt.Errorf("wrap: %w", context.Canceled)))
	assert.False(t, IsTemporary(&StatusError{Code: http.StatusUnauthorized}))
	assert.True(t, IsTemporary(&StatusError{Code: http.StatusServiceUnavailable}))
}
