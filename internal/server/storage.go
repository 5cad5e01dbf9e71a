package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iudanet/roomsync/internal/config"
	"github.com/iudanet/roomsync/internal/server/storage"
	"github.com/iudanet/roomsync/internal/server/storage/boltdb"
	"github.com/iudanet/roomsync/internal/server/storage/memory"
	"github.com/iudanet/roomsync/internal/server/storage/postgres"
	"github.com/iudanet/roomsync/internal/server/storage/redis"
	"github.com/iudanet/roomsync/internal/server/storage/sqlite"
)

// OpenStorage открывает хранилище, выбранное в конфигурации
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.RoomStorage, error) {
	var (
		store storage.RoomStorage
		err   error
	)

	switch cfg.Backend {
	case config.BackendMemory:
		store = memory.New()
	case config.BackendSQLite:
		store, err = sqlite.New(ctx, cfg.SQLitePath)
	case config.BackendBolt:
		store, err = boltdb.New(ctx, cfg.BoltPath)
	case config.BackendRedis:
		store, err = redis.Open(ctx, cfg.RedisURL, logger)
	case config.BackendPostgres:
		store, err = postgres.New(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Backend, err)
	}

	logger.Info("Storage opened", "storage", cfg.Backend)
	return store, nil
}
