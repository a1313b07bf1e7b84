package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goodtune/tracktime/internal/config"
	"github.com/goodtune/tracktime/internal/retry"
	"github.com/goodtune/tracktime/internal/storage"
	"github.com/goodtune/tracktime/internal/storage/bolt"
	"github.com/goodtune/tracktime/internal/storage/redis"
	"github.com/goodtune/tracktime/internal/upload"
	"github.com/rs/zerolog"
)

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "bolt"
	}

	switch storageType {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be bolt or redis)", storageType)
	}
}

// setupLogger configures the logger based on configuration. out receives
// the primary stream; the returned func closes the optional log file.
func setupLogger(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, func(), error) {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	var primary io.Writer = out
	if cfg.Format == "text" {
		primary = zerolog.ConsoleWriter{Out: out}
	}

	if cfg.File == "" {
		return zerolog.New(primary).With().Timestamp().Logger(), func() {}, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
	}
	// The file always gets JSON so it stays machine readable.
	w := zerolog.MultiLevelWriter(primary, f)
	return zerolog.New(w).With().Timestamp().Logger(), func() { _ = f.Close() }, nil
}

// newUploader wires the configured destination to the journal in store.
func newUploader(cfg *config.Config, store storage.Store, logger zerolog.Logger) (*upload.Uploader, error) {
	dest, err := upload.NewDestination(cfg.Upload, store.Credentials(), logger)
	if err != nil {
		return nil, err
	}

	return upload.New(dest, store.Uploads(), nil, upload.Config{
		Interval: config.Duration(cfg.Upload.Interval, upload.DefaultInterval),
		Timeout:  config.Duration(cfg.Upload.Timeout, upload.DefaultTimeout),
		Policy: retry.Policy{
			MaxAttempts:      cfg.Upload.MaxAttempts,
			InitialBackoff:   config.Duration(cfg.Upload.InitialBackoff, 2*time.Second),
			RateLimitBackoff: config.Duration(cfg.Upload.RateLimitBackoff, 30*time.Second),
		},
	}, logger), nil
}
