package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/tracktime/internal/storage"
)

type credentialStore struct {
	s *Store
}

// Get retrieves a credential by name.
func (s *credentialStore) Get(ctx context.Context, name string) (*storage.Credential, error) {
	return getJSON[storage.Credential](ctx, s.s, bucketCredentials, name)
}

// Upsert creates or replaces a credential.
func (s *credentialStore) Upsert(ctx context.Context, cred storage.Credential) error {
	if cred.Name == "" {
		return fmt.Errorf("credential name is required")
	}
	cred.UpdatedAt = time.Now()
	return putJSON(ctx, s.s, bucketCredentials, cred.Name, cred)
}

// Delete removes a credential by name.
func (s *credentialStore) Delete(ctx context.Context, name string) error {
	return deleteKey(ctx, s.s, bucketCredentials, name)
}
