package sqlite

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

// AppendUpdate inserts an envelope; id AUTOINCREMENT keeps insertion order
func (d *roomData) AppendUpdate(ctx context.Context, envelope *models.UpdateEnvelope) error {
	query := `
		INSERT INTO room_updates (room, client_id, type, data, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := d.tx.ExecContext(ctx, query,
		d.room,
		envelope.ClientID,
		string(envelope.Type),
		nonNilBytes(envelope.Data),
		envelope.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert update: %w", err)
	}

	return nil
}

// GetAllUpdates returns room envelopes in insertion order
func (d *roomData) GetAllUpdates(ctx context.Context) ([]*models.UpdateEnvelope, error) {
	query := `
		SELECT client_id, type, data, timestamp
		FROM room_updates
		WHERE room = ?
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

// ReplaceAllUpdates deletes the room log and reinserts envelopes in the given order
func (d *roomData) ReplaceAllUpdates(ctx context.Context, envelopes []*models.UpdateEnvelope) error {
	if _, err := d.tx.ExecContext(ctx, `DELETE FROM room_updates WHERE room = ?`, d.room); err != nil {
		return fmt.Errorf("failed to delete updates: %w", err)
	}

	for _, envelope := range envelopes {
		if err := d.AppendUpdate(ctx, envelope); err != nil {
			return err
		}
	}

	return nil
}

// GetAwareness returns awareness entries in the order they were set
func (d *roomData) GetAwareness(ctx context.Context) ([]*models.AwarenessEntry, error) {
	query := `
		SELECT client_id, state, updated_at
		FROM room_awareness
		WHERE room = ?
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

// SetAwareness replaces awareness rows of the room
func (d *roomData) SetAwareness(ctx context.Context, entries []*models.AwarenessEntry) error {
	if _, err := d.tx.ExecContext(ctx, `DELETE FROM room_awareness WHERE room = ?`, d.room); err != nil {
		return fmt.Errorf("failed to delete awareness: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO room_awareness (room, client_id, state, updated_at, position)
		VALUES (?, ?, ?, ?, ?)
	`

	for i, entry := range entries {
		_, err := d.tx.ExecContext(ctx, query,
			d.room,
			entry.ClientID,
			string(entry.State),
			entry.UpdatedAt,
			i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert awareness: %w", err)
		}
	}

	return nil
}

// nonNilBytes защищает NOT NULL колонку от nil slice
func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
