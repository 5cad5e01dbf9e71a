// Package poller реализует клиентский цикл HTTP-polling синхронизации комнат.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	httpClient "github.com/iudanet/roomsync/internal/client/api"
	"github.com/iudanet/roomsync/internal/client/storage"
	"github.com/iudanet/roomsync/pkg/api"
)

// DefaultInterval пауза между успешными опросами
const DefaultInterval = time.Second

var ErrNoRooms = errors.New("no rooms to poll")

// Syncer отправляет sync batch на сервер
type Syncer interface {
	Sync(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error)
}

// Handler получает ответ по комнате после успешного опроса
type Handler func(ctx context.Context, room api.RoomResponse) error

// Compactor сворачивает журнал комнаты в одно compaction обновление
type Compactor interface {
	Compact(ctx context.Context, room string, log []api.UpdateEnvelope) (string, error)
}

// CompactorFunc адаптер функции к Compactor
type CompactorFunc func(ctx context.Context, room string, log []api.UpdateEnvelope) (string, error)

func (f CompactorFunc) Compact(ctx context.Context, room string, log []api.UpdateEnvelope) (string, error) {
	return f(ctx, room, log)
}

// Config настройки опроса
type Config struct {
	AccessToken string
	Rooms       []string
	// Awareness состояние присутствия, nil - клиент не присутствует в комнатах
	Awareness json.RawMessage
	Interval  time.Duration
	// MaxElapsed предел повторов после ошибки, 0 - повторять бесконечно
	MaxElapsed time.Duration
}

// Result итог одного опроса
type Result struct {
	Sent        int // отправлено обновлений
	Received    int // получено обновлений
	Compactions int // поставлено в очередь compaction обновлений
	RoomErrors  int // комнат с ошибкой хранилища на сервере
}

// Poller опрашивает сервер и поддерживает локальные курсоры и очередь
type Poller struct {
	syncer    Syncer
	store     storage.RoomStateStorage
	handler   Handler
	compactor Compactor
	logger    *slog.Logger
	cfg       Config
}

// Option настраивает Poller
type Option func(*Poller)

// WithHandler задает обработчик полученных обновлений
func WithHandler(h Handler) Option {
	return func(p *Poller) { p.handler = h }
}

// WithCompactor включает участие клиента в компакции
func WithCompactor(c Compactor) Option {
	return func(p *Poller) { p.compactor = c }
}

// New создает Poller
func New(logger *slog.Logger, syncer Syncer, store storage.RoomStateStorage, cfg Config, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	p := &Poller{
		syncer: syncer,
		store:  store,
		logger: logger,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll выполняет один раунд: отправляет очередь, применяет ответ, сдвигает курсоры.
// Курсор и очередь комнаты с ошибкой на сервере не меняются, она будет повторена.
func (p *Poller) Poll(ctx context.Context) (*Result, error) {
	if len(p.cfg.Rooms) == 0 {
		return nil, ErrNoRooms
	}

	clientID, err := p.store.ClientID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get client id: %w", err)
	}

	result := &Result{}
	req := api.SyncRequest{Rooms: make([]api.RoomRequest, 0, len(p.cfg.Rooms))}
	lastSeq := make(map[string]uint64, len(p.cfg.Rooms))

	for _, room := range p.cfg.Rooms {
		cursor, err := p.store.GetCursor(ctx, room)
		if err != nil {
			return nil, fmt.Errorf("failed to get cursor for %s: %w", room, err)
		}

		pending, err := p.store.Pending(ctx, room)
		if err != nil {
			return nil, fmt.Errorf("failed to get pending updates for %s: %w", room, err)
		}

		updates := make([]api.UpdateInput, 0, len(pending))
		for _, u := range pending {
			updates = append(updates, api.NewUpdateInput(u.Update.Type, u.Update.Data))
			lastSeq[room] = u.Seq
		}
		result.Sent += len(updates)

		req.Rooms = append(req.Rooms, api.RoomRequest{
			Room:      room,
			ClientID:  clientID,
			After:     cursor,
			Awareness: p.cfg.Awareness,
			Updates:   updates,
		})
	}

	resp, err := p.syncer.Sync(ctx, p.cfg.AccessToken, req)
	if err != nil {
		return nil, err
	}

	for _, room := range resp.Rooms {
		if room.Error != "" {
			p.logger.Warn("Room sync failed on server", "room", room.Room, "error", room.Error)
			result.RoomErrors++
			continue
		}

		if err := p.applyRoom(ctx, room, lastSeq[room.Room], result); err != nil {
			return nil, err
		}
	}

	p.logger.Debug("Poll completed",
		"sent", result.Sent,
		"received", result.Received,
		"compactions", result.Compactions,
		"room_errors", result.RoomErrors,
	)

	return result, nil
}

func (p *Poller) applyRoom(ctx context.Context, room api.RoomResponse, sentUpTo uint64, result *Result) error {
	if sentUpTo > 0 {
		if err := p.store.Ack(ctx, room.Room, sentUpTo); err != nil {
			return fmt.Errorf("failed to ack updates for %s: %w", room.Room, err)
		}
	}

	if p.handler != nil {
		if err := p.handler(ctx, room); err != nil {
			return fmt.Errorf("handler failed for %s: %w", room.Room, err)
		}
	}
	result.Received += len(room.Updates)

	// Курсор сдвигаем только после обработки, иначе обновления потеряются при сбое
	if err := p.store.SaveCursor(ctx, room.Room, room.EndCursor); err != nil {
		return fmt.Errorf("failed to save cursor for %s: %w", room.Room, err)
	}

	if room.CompactionRequest == nil || p.compactor == nil {
		return nil
	}

	data, err := p.compactor.Compact(ctx, room.Room, room.CompactionRequest)
	if err != nil {
		// не фатально: сервер попросит снова на следующем опросе
		p.logger.Warn("Compaction failed", "room", room.Room, "error", err)
		return nil
	}

	if err := p.store.Enqueue(ctx, room.Room, api.TypedUpdate{Type: api.UpdateTypeCompaction, Data: data}); err != nil {
		return fmt.Errorf("failed to enqueue compaction for %s: %w", room.Room, err)
	}
	result.Compactions++
	p.logger.Info("Compaction queued", "room", room.Room, "log_size", len(room.CompactionRequest))

	return nil
}

// Run опрашивает сервер до отмены ctx.
// Временные ошибки повторяются с экспоненциальной задержкой, постоянные возвращаются.
func (p *Poller) Run(ctx context.Context) error {
	if len(p.cfg.Rooms) == 0 {
		return ErrNoRooms
	}

	for {
		if err := p.pollWithRetry(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.Interval):
		}
	}
}

func (p *Poller) pollWithRetry(ctx context.Context) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.Interval
	eb.MaxInterval = 30 * p.cfg.Interval
	eb.MaxElapsedTime = p.cfg.MaxElapsed

	op := func() error {
		_, err := p.Poll(ctx)
		if err != nil && !httpClient.IsTemporary(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		p.logger.Warn("Poll failed, retrying", "error", err, "retry_in", next)
	}

	return backoff.RetryNotify(op, backoff.WithContext(eb, ctx), notify)
}
