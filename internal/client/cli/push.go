package cli

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"

	"github.com/iudanet/roomsync/internal/models"
	"github.com/iudanet/roomsync/pkg/api"
)

// RunPush ставит обновление в очередь комнаты и выполняет один опрос.
// DATA - base64; с -text строка кодируется автоматически; "-" читает строку из ввода.
func (c *Cli) RunPush(ctx context.Context, args []string) error {
	var (
		room, typ string
		text      bool
	)

	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	fs.SetOutput(c.io)
	fs.StringVar(&room, "room", "", "room key")
	fs.StringVar(&typ, "type", api.UpdateTypeUpdate, "update type: update|sync_step1|sync_step2|compaction")
	fs.BoolVar(&text, "text", false, "DATA is plain text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if room == "" {
		return fmt.Errorf("-room is required")
	}
	if !models.UpdateType(typ).Valid() {
		return fmt.Errorf("unknown update type %q", typ)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one DATA argument")
	}

	data := fs.Arg(0)
	if data == "-" {
		line, err := c.io.ReadInput("Data: ")
		if err != nil {
			return fmt.Errorf("failed to read data: %w", err)
		}
		data = line
	}

	if text {
		data = base64.StdEncoding.EncodeToString([]byte(data))
	} else if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return fmt.Errorf("data must be base64 (use -text for plain text): %w", err)
	}

	if err := c.store.Enqueue(ctx, room, api.TypedUpdate{Type: typ, Data: data}); err != nil {
		return fmt.Errorf("failed to queue update: %w", err)
	}

	p, err := c.newPoller(ctx, &pollFlags{rooms: roomList{room}})
	if err != nil {
		return err
	}

	result, err := p.Poll(ctx)
	if err != nil {
		// обновление остается в очереди и уйдет со следующим опросом
		return fmt.Errorf("update queued, sync failed: %w", err)
	}

	c.logger.Info("Update pushed", "room", room, "type", typ, "sent", result.Sent)
	return nil
}
