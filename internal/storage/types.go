package storage

import "time"

// Credential is a cached access/refresh token pair.
type Credential struct {
	Name         string    `json:"name"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"` // zero when the token carries no exp claim
	UpdatedAt    time.Time `json:"updated_at"`
}

// Trigger names what caused an upload.
type Trigger string

const (
	TriggerInterval Trigger = "interval"
	TriggerRollover Trigger = "rollover"
	TriggerShutdown Trigger = "shutdown"
	TriggerManual   Trigger = "manual"
)

// UploadRecord is one journal entry: a single push of one day's ledger.
type UploadRecord struct {
	ID          string        `json:"id"`
	Date        string        `json:"date"`
	Destination string        `json:"destination"`
	Remote      string        `json:"remote"`
	Trigger     Trigger       `json:"trigger"`
	Bytes       int           `json:"bytes"`
	Attempts    int           `json:"attempts"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
}
