package server

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/roomsync/internal/config"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Addr:                "127.0.0.1:0",
		Backend:             backend,
		SQLitePath:          filepath.Join(dir, "rooms.db"),
		BoltPath:            filepath.Join(dir, "rooms.bolt"),
		JWTSecret:           "app-test-secret-0123",
		LogLevel:            "error",
		JWTTTL:              time.Minute,
		AwarenessTimeout:    30 * time.Second,
		RateLimitWindow:     time.Minute,
		ShutdownTimeout:     5 * time.Second,
		RateLimit:           100,
		CompactionThreshold: 50,
		CursorBuffer:        100,
		MaxBodyBytes:        1 << 20,
	}
}

func TestOpenStorage(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		backend string
		mutate  func(cfg *config.Config)
		wantErr bool
	}{
		{name: "memory", backend: config.BackendMemory},
		{name: "sqlite", backend: config.BackendSQLite},
		{name: "bolt", backend: config.BackendBolt},
		{
			name:    "redis",
			backend: config.BackendRedis,
			mutate:  func(cfg *config.Config) { cfg.RedisURL = "redis://" + mr.Addr() + "/0" },
		},
		{name: "unknown backend", backend: "mongo", wantErr: true},
		{
			name:    "redis bad url",
			backend: config.BackendRedis,
			mutate:  func(cfg *config.Config) { cfg.RedisURL = "not-a-url" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.backend)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			store, err := OpenStorage(context.Background(), cfg, setupTestLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			assert.NoError(t, store.Ping(context.Background()))
		})
	}
}

func TestNewApp_BadPolicyFile(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.PolicyFile = filepath.Join(t.TempDir(), "missing.csv")

	_, err := NewApp(context.Background(), cfg, setupTestLogger(), "test")
	assert.Error(t, err)
}

func TestApp_ServeAndShutdown(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)

	app, err := NewApp(context.Background(), cfg, setupTestLogger(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + HealthPath)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
