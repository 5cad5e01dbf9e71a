package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/iudanet/roomsync/internal/clock"
	"github.com/iudanet/roomsync/internal/config"
	"github.com/iudanet/roomsync/internal/server/access"
	"github.com/iudanet/roomsync/internal/server/handlers"
	"github.com/iudanet/roomsync/internal/server/metrics"
	"github.com/iudanet/roomsync/internal/server/middleware"
	"github.com/iudanet/roomsync/internal/server/roomsync"
	"github.com/iudanet/roomsync/internal/server/storage"
)

// App собранный sync сервер
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.RoomStorage
	limiter *middleware.RateLimiter
	handler http.Handler
}

// NewApp открывает хранилище и собирает зависимости сервера
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	store, err := OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	enforcer, err := access.NewEnforcer(cfg.PolicyFile, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create authorizer: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	svc := roomsync.NewService(logger, store, enforcer, m, clock.New(), roomsync.Config{
		CompactionThreshold: cfg.CompactionThreshold,
		AwarenessTimeout:    cfg.AwarenessTimeout,
		CursorBuffer:        cfg.CursorBuffer,
	})

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow, logger)
	}

	handler := NewRouter(RouterDeps{
		Logger:      logger,
		Sync:        handlers.NewSyncHandler(logger, svc, cfg.MaxBodyBytes),
		Health:      handlers.NewHealthHandler(logger, store, cfg.Backend, version),
		Metrics:     m,
		Gatherer:    reg,
		RateLimiter: limiter,
		JWTConfig: handlers.JWTConfig{
			Secret:         []byte(cfg.JWTSecret),
			AccessTokenTTL: cfg.JWTTTL,
		},
	})

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		limiter: limiter,
		handler: handler,
	}, nil
}

// Handler HTTP обработчик приложения
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run слушает cfg.Addr до отмены ctx, затем корректно останавливает сервер
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve обслуживает ln до отмены ctx
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server listening", "addr", ln.Addr().String(), "storage", a.cfg.Backend)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Close освобождает ресурсы приложения
func (a *App) Close() error {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}
