// Package upload pushes daily ledgers to a remote destination.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/tracktime/internal/config"
	"github.com/goodtune/tracktime/internal/retry"
	"github.com/goodtune/tracktime/internal/storage"
	storageredis "github.com/goodtune/tracktime/internal/storage/redis"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned by Fetch when the destination holds no
	// ledger for the date.
	ErrNotFound = errors.New("upload: ledger not found at destination")

	// ErrNoCredentials is returned when the REST destination has no cached
	// credential. Run `tracktime auth set` first.
	ErrNoCredentials = errors.New("upload: no credentials cached")
)

// Destination is a remote store for daily ledger documents.
type Destination interface {
	Name() string
	// Put stores body as the ledger for date, replacing any previous copy,
	// and returns where it was written.
	Put(ctx context.Context, date time.Time, body []byte) (string, error)
	// Fetch returns the stored ledger for date.
	Fetch(ctx context.Context, date time.Time) ([]byte, error)
}

// StatusError is an unexpected HTTP response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// NewDestination builds the configured destination. creds is only used by
// the rest destination.
func NewDestination(cfg config.UploadConfig, creds storage.CredentialStore, logger zerolog.Logger) (Destination, error) {
	switch cfg.Destination {
	case "dropbox":
		return NewDropbox(cfg.Dropbox, config.Duration(cfg.Timeout, DefaultTimeout), logger), nil
	case "rest":
		if creds == nil {
			return nil, fmt.Errorf("rest destination requires a credential store")
		}
		return NewREST(cfg.REST, creds, nil, nil, logger), nil
	case "redis":
		client, err := storageredis.NewClient(cfg.Redis.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedis(client, cfg.Redis.KeyPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unsupported upload destination: %s", cfg.Destination)
	}
}

// Classify decides whether a failed push is worth retrying.
func Classify(err error) retry.Action {
	var statusErr *StatusError
	var refreshErr *TokenRefreshError

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Stop
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoCredentials):
		return retry.Stop
	case errors.As(err, &refreshErr):
		if refreshErr.Revoked {
			return retry.Stop
		}
		return retry.Retry
	case errors.As(err, &statusErr):
		return retry.ClassifyStatus(statusErr.Code)
	}

	if action, ok := classifyDropbox(err); ok {
		return action
	}
	return retry.Retry
}
