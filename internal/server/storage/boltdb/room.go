package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/roomsync/internal/models"
)

// roomData implements storage.RoomData over a room bucket of an open write transaction
type roomData struct {
	bucket *bbolt.Bucket
}

// AppendUpdate stores the envelope under the next sequence key of the updates bucket
func (d *roomData) AppendUpdate(ctx context.Context, envelope *models.UpdateEnvelope) error {
	updates, err := d.bucket.CreateBucketIfNotExists(bucketUpdates)
	if err != nil {
		return fmt.Errorf("failed to create updates bucket: %w", err)
	}

	return putEnvelope(updates, envelope)
}

// GetAllUpdates reads envelopes in key (insertion) order
func (d *roomData) GetAllUpdates(ctx context.Context) ([]*models.UpdateEnvelope, error) {
	envelopes := make([]*models.UpdateEnvelope, 0)

	updates := d.bucket.Bucket(bucketUpdates)
	if updates == nil {
		// Нет bucket - комната ещё пустая
		return envelopes, nil
	}

	err := updates.ForEach(func(k, v []byte) error {
		var envelope models.UpdateEnvelope
		if err := json.Unmarshal(v, &envelope); err != nil {
			return fmt.Errorf("failed to unmarshal update: %w", err)
		}
		envelopes = append(envelopes, &envelope)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return envelopes, nil
}

// ReplaceAllUpdates drops the updates bucket and writes envelopes again
func (d *roomData) ReplaceAllUpdates(ctx context.Context, envelopes []*models.UpdateEnvelope) error {
	if err := d.bucket.DeleteBucket(bucketUpdates); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
		return fmt.Errorf("failed to delete updates bucket: %w", err)
	}

	updates, err := d.bucket.CreateBucket(bucketUpdates)
	if err != nil {
		return fmt.Errorf("failed to create updates bucket: %w", err)
	}

	for _, envelope := range envelopes {
		if err := putEnvelope(updates, envelope); err != nil {
			return err
		}
	}

	return nil
}

// GetAwareness decodes the awareness document, empty if missing
func (d *roomData) GetAwareness(ctx context.Context) ([]*models.AwarenessEntry, error) {
	entries := make([]*models.AwarenessEntry, 0)

	raw := d.bucket.Get(keyAwareness)
	if raw == nil {
		return entries, nil
	}

	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal awareness: %w", err)
	}

	return entries, nil
}

// SetAwareness overwrites the awareness document
func (d *roomData) SetAwareness(ctx context.Context, entries []*models.AwarenessEntry) error {
	if entries == nil {
		entries = []*models.AwarenessEntry{}
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal awareness: %w", err)
	}

	if err := d.bucket.Put(keyAwareness, raw); err != nil {
		return fmt.Errorf("failed to save awareness: %w", err)
	}

	return nil
}

// putEnvelope сериализует конверт и сохраняет под следующим sequence ключом
func putEnvelope(bucket *bbolt.Bucket, envelope *models.UpdateEnvelope) error {
	seq, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to get next sequence: %w", err)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	// BigEndian ключ сохраняет порядок вставки при обходе курсором
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)

	if err := bucket.Put(key, data); err != nil {
		return fmt.Errorf("failed to save update: %w", err)
	}

	return nil
}
