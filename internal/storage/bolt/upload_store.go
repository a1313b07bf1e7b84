package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/tracktime/internal/storage"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

type uploadStore struct {
	s *Store
}

// Add appends a record to the journal and indexes it under its date.
func (s *uploadStore) Add(ctx context.Context, record storage.UploadRecord) error {
	if record.Date == "" {
		return fmt.Errorf("upload record date is required")
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode upload record: %w", err)
	}
	key := journalKey(record.StartedAt, record.ID)

	return s.s.update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketUploads)).Put(key, data); err != nil {
			return err
		}
		index, err := dateIndex(tx, record.Date, true)
		if err != nil {
			return fmt.Errorf("index upload under %s: %w", record.Date, err)
		}
		return index.Put(key, []byte{})
	})
}

// List returns records newest first.
func (s *uploadStore) List(ctx context.Context, filter storage.UploadFilter) ([]storage.UploadRecord, error) {
	records := make([]storage.UploadRecord, 0)
	err := s.s.view(func(tx *bbolt.Tx) error {
		uploads := tx.Bucket([]byte(bucketUploads))

		// The date index shares the journal's keys, so either one can be
		// walked backwards for newest-first order.
		walk := uploads
		if filter.Date != "" {
			walk, _ = dateIndex(tx, filter.Date, false)
			if walk == nil {
				return nil
			}
		}

		c := walk.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			if err := ctx.Err(); err != nil {
				return err
			}
			value := uploads.Get(k)
			if value == nil {
				continue
			}
			record, err := decode[storage.UploadRecord](value)
			if err != nil {
				return err
			}
			records = append(records, *record)
			if filter.Limit > 0 && len(records) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	return records, err
}

// DeleteBefore removes records started before cutoff along with their
// index entries and reports how many were removed.
func (s *uploadStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.s.update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		uploads := tx.Bucket([]byte(bucketUploads))

		// Keys sort by start time, so stale records form a prefix.
		type expired struct {
			key  []byte
			date string
		}
		var stale []expired
		c := uploads.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			record, err := decode[storage.UploadRecord](v)
			if err != nil {
				return err
			}
			if !record.StartedAt.Before(cutoff) {
				break
			}
			stale = append(stale, expired{key: append([]byte(nil), k...), date: record.Date})
		}

		for _, item := range stale {
			if index, _ := dateIndex(tx, item.date, false); index != nil {
				if err := index.Delete(item.key); err != nil {
					return err
				}
			}
			if err := uploads.Delete(item.key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
