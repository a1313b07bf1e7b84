package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
// Ledgers themselves live on the filesystem; this holds the state that
// supports uploading them.
type Store interface {
	Close() error
	Credentials() CredentialStore
	Uploads() UploadStore
}

// CredentialStore caches bearer credentials for upload destinations.
type CredentialStore interface {
	Get(ctx context.Context, name string) (*Credential, error)
	Upsert(ctx context.Context, cred Credential) error
	Delete(ctx context.Context, name string) error
}

// UploadStore is the upload journal.
type UploadStore interface {
	Add(ctx context.Context, record UploadRecord) error
	List(ctx context.Context, filter UploadFilter) ([]UploadRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// UploadFilter defines criteria for listing upload records.
type UploadFilter struct {
	Date  string // ledger date, YYYY-MM-DD; empty for all
	Limit int    // newest first; 0 for no limit
}
