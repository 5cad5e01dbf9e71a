package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iudanet/roomsync/internal/models"
)

// roomData буферизует изменения комнаты до успешного завершения callback'а
type roomData struct {
	client       goredis.UniversalClient
	updatesKey   string
	awarenessKey string

	updates       []*models.UpdateEnvelope
	updatesLoaded bool
	appended      []*models.UpdateEnvelope
	replaced      bool

	awareness      []*models.AwarenessEntry
	awarenessDirty bool
}

func (d *roomData) AppendUpdate(ctx context.Context, envelope *models.UpdateEnvelope) error {
	if err := d.loadUpdates(ctx); err != nil {
		return err
	}

	clone := envelope.Clone()
	d.updates = append(d.updates, clone)
	d.appended = append(d.appended, clone)
	return nil
}

func (d *roomData) GetAllUpdates(ctx context.Context) ([]*models.UpdateEnvelope, error) {
	if err := d.loadUpdates(ctx); err != nil {
		return nil, err
	}

	result := make([]*models.UpdateEnvelope, 0, len(d.updates))
	for _, envelope := range d.updates {
		result = append(result, envelope.Clone())
	}
	return result, nil
}

func (d *roomData) ReplaceAllUpdates(ctx context.Context, envelopes []*models.UpdateEnvelope) error {
	d.updates = make([]*models.UpdateEnvelope, 0, len(envelopes))
	for _, envelope := range envelopes {
		d.updates = append(d.updates, envelope.Clone())
	}
	d.updatesLoaded = true
	d.replaced = true
	d.appended = nil
	return nil
}

func (d *roomData) GetAwareness(ctx context.Context) ([]*models.AwarenessEntry, error) {
	if d.awareness == nil {
		raw, err := d.client.Get(ctx, d.awarenessKey).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
			d.awareness = []*models.AwarenessEntry{}
		case err != nil:
			return nil, fmt.Errorf("failed to get awareness: %w", err)
		default:
			var entries []*models.AwarenessEntry
			if err := json.Unmarshal(raw, &entries); err != nil {
				return nil, fmt.Errorf("failed to unmarshal awareness: %w", err)
			}
			d.awareness = entries
		}
	}

	result := make([]*models.AwarenessEntry, 0, len(d.awareness))
	for _, entry := range d.awareness {
		result = append(result, entry.Clone())
	}
	return result, nil
}

func (d *roomData) SetAwareness(ctx context.Context, entries []*models.AwarenessEntry) error {
	d.awareness = make([]*models.AwarenessEntry, 0, len(entries))
	for _, entry := range entries {
		d.awareness = append(d.awareness, entry.Clone())
	}
	d.awarenessDirty = true
	return nil
}

func (d *roomData) loadUpdates(ctx context.Context) error {
	if d.updatesLoaded {
		return nil
	}

	values, err := d.client.LRange(ctx, d.updatesKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read updates: %w", err)
	}

	d.updates = make([]*models.UpdateEnvelope, 0, len(values))
	for _, value := range values {
		var envelope models.UpdateEnvelope
		if err := json.Unmarshal([]byte(value), &envelope); err != nil {
			return fmt.Errorf("failed to unmarshal update: %w", err)
		}
		d.updates = append(d.updates, &envelope)
	}

	d.updatesLoaded = true
	return nil
}

// flush применяет накопленные изменения одной транзакцией MULTI/EXEC
func (d *roomData) flush(ctx context.Context) error {
	if !d.replaced && len(d.appended) == 0 && !d.awarenessDirty {
		return nil
	}

	var pushed []*models.UpdateEnvelope
	if d.replaced {
		pushed = d.updates
	} else {
		pushed = d.appended
	}

	values := make([]any, 0, len(pushed))
	for _, envelope := range pushed {
		raw, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("failed to marshal update: %w", err)
		}
		values = append(values, raw)
	}

	var awareness []byte
	if d.awarenessDirty {
		raw, err := json.Marshal(d.awareness)
		if err != nil {
			return fmt.Errorf("failed to marshal awareness: %w", err)
		}
		awareness = raw
	}

	_, err := d.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if d.replaced {
			pipe.Del(ctx, d.updatesKey)
		}
		if len(values) > 0 {
			pipe.RPush(ctx, d.updatesKey, values...)
		}
		if d.awarenessDirty {
			pipe.Set(ctx, d.awarenessKey, awareness, 0)
		}
		return nil
	})
	return err
}
