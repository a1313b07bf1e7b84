package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/tracktime/internal/storage"
	"github.com/redis/go-redis/v9"
)

type credentialStore struct {
	client *redis.Client
}

func credentialKey(name string) string {
	return keyPrefix + "credential:" + name
}

// Get retrieves a credential by name
func (s *credentialStore) Get(ctx context.Context, name string) (*storage.Credential, error) {
	data, err := s.client.HGetAll(ctx, credentialKey(name)).Result()
	if err != nil {
		return nil, err
	}
	return parseCredential(data)
}

// Upsert creates or replaces a credential
func (s *credentialStore) Upsert(ctx context.Context, cred storage.Credential) error {
	if cred.Name == "" {
		return fmt.Errorf("credential name is required")
	}

	expiresAt := ""
	if !cred.ExpiresAt.IsZero() {
		expiresAt = cred.ExpiresAt.Format(time.RFC3339Nano)
	}

	return s.client.HSet(ctx, credentialKey(cred.Name),
		"name", cred.Name,
		"access_token", cred.AccessToken,
		"refresh_token", cred.RefreshToken,
		"expires_at", expiresAt,
		"updated_at", time.Now().Format(time.RFC3339Nano),
	).Err()
}

// Delete removes a credential by name
func (s *credentialStore) Delete(ctx context.Context, name string) error {
	n, err := s.client.Del(ctx, credentialKey(name)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
