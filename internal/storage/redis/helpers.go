package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/tracktime/internal/storage"
)

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// parseCredential converts a Redis hash to Credential
func parseCredential(data map[string]string) (*storage.Credential, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	cred := &storage.Credential{
		Name:         data["name"],
		AccessToken:  data["access_token"],
		RefreshToken: data["refresh_token"],
	}

	if v := data["expires_at"]; v != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expires_at: %w", err)
		}
		cred.ExpiresAt = expiresAt
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	cred.UpdatedAt = updatedAt

	return cred, nil
}

// parseUploadRecord converts a Redis hash to UploadRecord
func parseUploadRecord(data map[string]string) (*storage.UploadRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	bytes, err := strconv.Atoi(data["bytes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse bytes: %w", err)
	}

	attempts, err := strconv.Atoi(data["attempts"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse attempts: %w", err)
	}

	durationMS, err := strconv.ParseInt(data["duration_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration_ms: %w", err)
	}

	return &storage.UploadRecord{
		ID:          data["id"],
		Date:        data["date"],
		Destination: data["destination"],
		Remote:      data["remote"],
		Trigger:     storage.Trigger(data["trigger"]),
		Bytes:       bytes,
		Attempts:    attempts,
		StartedAt:   startedAt,
		Duration:    time.Duration(durationMS) * time.Millisecond,
		Success:     data["success"] == "1",
		Error:       data["error"],
	}, nil
}
