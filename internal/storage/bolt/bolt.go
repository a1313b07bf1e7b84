// Package bolt keeps the credential cache and upload journal in a single
// bbolt file.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goodtune/tracktime/internal/storage"
	"go.etcd.io/bbolt"
)

// Layout:
//
//	credentials/{name}                   -> Credential
//	uploads/{journalKey}                 -> UploadRecord
//	upload_dates/{YYYY-MM-DD}/{journalKey} -> empty
const (
	bucketCredentials = "credentials"
	bucketUploads     = "uploads"
	bucketUploadDates = "upload_dates"
)

// lockTimeout bounds how long one operation waits for another process
// holding the file.
const lockTimeout = 5 * time.Second

// ErrBusy is returned when another process held the database for longer
// than lockTimeout.
var ErrBusy = errors.New("bolt db is busy")

// Store implements the storage.Store interface using bbolt. The file is
// opened for each operation and closed again, so a running tracker and the
// short-lived subcommands can share it.
type Store struct {
	path string

	// bbolt's file lock is per descriptor, so one process must not open
	// the file twice at once.
	mu sync.Mutex
}

// Open creates the database at path if needed, creating parent directories,
// and checks that it is usable.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	s := &Store{path: path}
	err := s.update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketCredentials, bucketUploads, bucketUploadDates} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close is a no-op; nothing stays open between operations.
func (s *Store) Close() error {
	return nil
}

// Credentials returns the credential store.
func (s *Store) Credentials() storage.CredentialStore { return &credentialStore{s: s} }

// Uploads returns the upload journal.
func (s *Store) Uploads() storage.UploadStore { return &uploadStore{s: s} }

func (s *Store) view(fn func(*bbolt.Tx) error) error {
	return s.with(true, fn)
}

func (s *Store) update(fn func(*bbolt.Tx) error) error {
	return s.with(false, fn)
}

// with opens the file for the length of one transaction. Readers take a
// shared lock; writers wait for exclusive access.
func (s *Store) with(readOnly bool, fn func(*bbolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: lockTimeout, ReadOnly: readOnly})
	if errors.Is(err, bbolt.ErrTimeout) {
		return fmt.Errorf("open bolt db %s: %w", s.path, ErrBusy)
	}
	if err != nil {
		return fmt.Errorf("open bolt db %s: %w", s.path, err)
	}
	defer func() { _ = db.Close() }()

	if readOnly {
		return db.View(fn)
	}
	return db.Update(fn)
}

// journalKey orders journal entries by start time; the record ID breaks ties.
func journalKey(startedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d/%s", startedAt.UnixNano(), id))
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return &v, nil
}

func getJSON[T any](ctx context.Context, s *Store, bucket, key string) (*T, error) {
	var item *T
	err := s.view(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		value := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if value == nil {
			return storage.ErrNotFound
		}
		var err error
		item, err = decode[T](value)
		return err
	})
	return item, err
}

func putJSON(ctx context.Context, s *Store, bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return s.update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func deleteKey(ctx context.Context, s *Store, bucket, key string) error {
	return s.update(func(tx *bbolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := tx.Bucket([]byte(bucket))
		if b.Get([]byte(key)) == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

// dateIndex returns the index bucket for a ledger date. Without create a
// missing bucket yields nil.
func dateIndex(tx *bbolt.Tx, date string, create bool) (*bbolt.Bucket, error) {
	dates := tx.Bucket([]byte(bucketUploadDates))
	if !create {
		return dates.Bucket([]byte(date)), nil
	}
	return dates.CreateBucketIfNotExists([]byte(date))
}
