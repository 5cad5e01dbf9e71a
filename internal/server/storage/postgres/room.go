package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iudanet/roomsync/internal/models"
)

// roomData implements storage.RoomData on top of an open transaction
type roomData struct {
	tx   *sql.Tx
	room string
}

func (d *roomData) AppendUpdate(ctx context.Context, envelope *models.UpdateEnvelope) error {
	query := `
		INSERT INTO room_updates (room, client_id, type, data, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`

	data := envelope.Data
	if data == nil {
		data = []byte{}
	}

	if _, err := d.tx.ExecContext(ctx, query, d.room, envelope.ClientID, string(envelope.Type), data, envelope.Timestamp); err != nil {
		return fmt.Errorf("failed to insert update: %w", err)
	}

	return nil
}

func (d *roomData) GetAllUpdates(ctx context.Context) ([]*models.UpdateEnvelope, error) {
	query := `
		SELECT client_id, type, data, timestamp
		FROM room_updates
		WHERE room = $1
		ORDER BY id ASC
	`

	rows, err := d.tx.QueryContext(ctx, query, d.room)
	if err != nil {
		return nil, fmt.Errorf("failed to query updates: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	envelopes := make([]*models.UpdateEnvelope, 0)
	for rows.Next() {
		envelope := &models.UpdateEnvelope{}
		var typ string

		if err := rows.Scan(&envelope.ClientID, &typ, &envelope.Data, &envelope.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}

		envelope.Type = models.UpdateType(typ)
		envelopes = append(envelopes, envelope)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return envelopes, nil
}

func (d *roomData) ReplaceAllUpdates(ctx context.Context, envelopes []*models.UpdateEnvelope) error {
	if _, err := d.tx.ExecContext(ctx, `DELETE FROM room_updates WHERE room = $1`, d.room); err != nil {
		return fmt.Errorf("failed to delete updates: %w", err)
	}

	for _, envelope := range envelopes {
		if err := d.AppendUpdate(ctx, envelope); err != nil {
			return err
		}
	}

	return nil
}

func (d *roomData) GetAwareness(ctx context.Context) ([]*models.AwarenessEntry, error) {
	query := `
		SELECT client_id, state, updated_at
		FROM room_awareness
		WHERE room = $1
		ORDER BY position ASC
	`

	rows, err := d.tx.QueryContext(ctx, query, d.room)
	if err != nil {
		return nil, fmt.Errorf("failed to query awareness: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make([]*models.AwarenessEntry, 0)
	for rows.Next() {
		entry := &models.AwarenessEntry{}
		var state string

		if err := rows.Scan(&entry.ClientID, &state, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan awareness: %w", err)
		}

		entry.State = json.RawMessage(state)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}

func (d *roomData) SetAwareness(ctx context.Context, entries []*models.AwarenessEntry) error {
	if _, err := d.tx.ExecContext(ctx, `DELETE FROM room_awareness WHERE room = $1`, d.room); err != nil {
		return fmt.Errorf("failed to delete awareness: %w", err)
	}

	query := `
		INSERT INTO room_awareness (room, client_id, state, updated_at, position)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room, client_id) DO UPDATE
		SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at, position = EXCLUDED.position
	`

	for i, entry := range entries {
		if _, err := d.tx.ExecContext(ctx, query, d.room, entry.ClientID, string(entry.State), entry.UpdatedAt, i); err != nil {
			return fmt.Errorf("failed to insert awareness: %w", err)
		}
	}

	return nil
}
