// Package cli реализует команды консольного клиента roomsync.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iudanet/roomsync/internal/client/iocli"
	"github.com/iudanet/roomsync/internal/client/poller"
	"github.com/iudanet/roomsync/internal/client/storage"
	"github.com/iudanet/roomsync/pkg/api"
)

// Options общие настройки команд синхронизации
type Options struct {
	AccessToken string
	// Awareness JSON состояние присутствия, пусто - не анонсировать
	Awareness string
}

// Cli команды клиента
type Cli struct {
	io     iocli.IO
	logger *slog.Logger
	syncer poller.Syncer
	store  storage.RoomStateStorage
	opts   Options
}

// New создает Cli
func New(io iocli.IO, logger *slog.Logger, syncer poller.Syncer, store storage.RoomStateStorage, opts Options) *Cli {
	return &Cli{
		io:     io,
		logger: logger,
		syncer: syncer,
		store:  store,
		opts:   opts,
	}
}

// roomList флаг -room, который можно повторять
type roomList []string

func (r *roomList) String() string {
	return strings.Join(*r, ",")
}

func (r *roomList) Set(value string) error {
	if value == "" {
		return storage.ErrInvalidRoom
	}
	*r = append(*r, value)
	return nil
}

// pollFlags флаги poll и watch
type pollFlags struct {
	rooms    roomList
	compact  bool
	interval time.Duration
}

func (c *Cli) parsePollFlags(name string, args []string) (*pollFlags, error) {
	f := &pollFlags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.io)
	fs.Var(&f.rooms, "room", "room to poll (repeatable); default: all known rooms")
	fs.BoolVar(&f.compact, "compact", false, "answer compaction requests with the latest snapshot")
	fs.DurationVar(&f.interval, "interval", poller.DefaultInterval, "poll interval (watch only)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// newPoller собирает poller для заданных комнат
func (c *Cli) newPoller(ctx context.Context, f *pollFlags) (*poller.Poller, error) {
	rooms := []string(f.rooms)
	if len(rooms) == 0 {
		known, err := c.store.Rooms(ctx)
		if err != nil {
			return nil, err
		}
		rooms = known
	}
	if len(rooms) == 0 {
		return nil, fmt.Errorf("%w: pass -room", poller.ErrNoRooms)
	}

	var awareness json.RawMessage
	if c.opts.Awareness != "" {
		if !json.Valid([]byte(c.opts.Awareness)) {
			return nil, fmt.Errorf("awareness must be valid JSON")
		}
		awareness = json.RawMessage(c.opts.Awareness)
	}
	// Компактором назначается только присутствующий клиент
	if f.compact && awareness == nil {
		awareness = json.RawMessage(`{}`)
	}

	opts := []poller.Option{poller.WithHandler(c.printRoom)}
	if f.compact {
		opts = append(opts, poller.WithCompactor(LatestSnapshot{}))
	}

	return poller.New(c.logger, c.syncer, c.store, poller.Config{
		AccessToken: c.opts.AccessToken,
		Rooms:       rooms,
		Awareness:   awareness,
		Interval:    f.interval,
	}, opts...), nil
}

// receivedLine строка вывода на каждое полученное обновление
type receivedLine struct {
	Room string `json:"room"`
	Type string `json:"type"`
	Data string `json:"data"`
}

// printRoom печатает полученные обновления как JSON lines
func (c *Cli) printRoom(ctx context.Context, room api.RoomResponse) error {
	enc := json.NewEncoder(c.io)
	for _, u := range room.Updates {
		if err := enc.Encode(receivedLine{Room: room.Room, Type: u.Type, Data: u.Data}); err != nil {
			return fmt.Errorf("failed to print update: %w", err)
		}
	}
	c.logger.Debug("Room polled",
		"room", room.Room,
		"updates", len(room.Updates),
		"peers", len(room.Awareness),
		"total_updates", room.TotalUpdates,
	)
	return nil
}

func PrintUsage(io iocli.IO) {
	io.Println("RoomSync Client")
	io.Println()
	io.Println("Usage:")
	io.Println("  roomsync [OPTIONS] COMMAND [ARGS]")
	io.Println()
	io.Println("Options:")
	io.Println("  --version             Show version information")
	io.Println("  --server URL          Server URL (default: http://localhost:8080)")
	io.Println("  --db PATH             Path to local database (default: roomsync-client.db)")
	io.Println("  --token TOKEN         Access token (or ROOMSYNC_TOKEN)")
	io.Println("  --client-id ID        Pin the client id instead of the generated one")
	io.Println("  --awareness JSON      Presence state announced to the room")
	io.Println("  --verbose             Debug logging to stderr")
	io.Println()
	io.Println("Commands:")
	io.Println("  token -user NAME [-role ROLE] [-ttl D]   Mint a development access token")
	io.Println("  push -room ROOM [-type T] [-text] DATA  Queue an update and sync once")
	io.Println("  poll [-room ROOM]... [-compact]          Sync once and print received updates")
	io.Println("  watch [-room ROOM]... [-interval D]      Keep polling until interrupted")
	io.Println()
	io.Println("Examples:")
	io.Println("  export ROOMSYNC_JWT_SECRET='dev-secret-0123456789'")
	io.Println("  export ROOMSYNC_TOKEN=$(roomsync token -user alice -role editor)")
	io.Println("  roomsync push -room postType/post:1 -text 'hello'")
	io.Println("  roomsync --awareness '{\"name\":\"alice\"}' watch -room postType/post:1 -compact")
}
