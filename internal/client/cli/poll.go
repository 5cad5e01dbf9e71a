package cli

import (
	"context"
	"fmt"
)

// RunPoll выполняет один опрос и печатает полученные обновления
func (c *Cli) RunPoll(ctx context.Context, args []string) error {
	f, err := c.parsePollFlags("poll", args)
	if err != nil {
		return err
	}

	p, err := c.newPoller(ctx, f)
	if err != nil {
		return err
	}

	result, err := p.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll failed: %w", err)
	}

	c.logger.Info("Poll completed",
		"sent", result.Sent,
		"received", result.Received,
		"compactions", result.Compactions,
		"room_errors", result.RoomErrors,
	)
	if result.RoomErrors > 0 {
		return fmt.Errorf("%d room(s) failed on server", result.RoomErrors)
	}
	return nil
}

// RunWatch опрашивает сервер до отмены ctx
func (c *Cli) RunWatch(ctx context.Context, args []string) error {
	f, err := c.parsePollFlags("watch", args)
	if err != nil {
		return err
	}

	p, err := c.newPoller(ctx, f)
	if err != nil {
		return err
	}

	c.logger.Info("Watching rooms", "interval", f.interval)
	return p.Run(ctx)
}
