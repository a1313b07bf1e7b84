package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/tracktime/internal/config"
	"github.com/goodtune/tracktime/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tracktime:"

// Store implements the storage.Store interface using Redis
type Store struct {
	client      *redis.Client
	credentials *credentialStore
	uploads     *uploadStore
}

// NewClient creates a Redis client from configuration and verifies the
// connection.
func NewClient(cfg config.RedisConfig) (*redis.Client, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry a port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &Store{
		client:      client,
		credentials: &credentialStore{client: client},
		uploads:     &uploadStore{client: client},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Credentials returns the CredentialStore implementation
func (s *Store) Credentials() storage.CredentialStore {
	return s.credentials
}

// Uploads returns the UploadStore implementation
func (s *Store) Uploads() storage.UploadStore {
	return s.uploads
}
