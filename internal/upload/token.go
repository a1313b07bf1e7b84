package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goodtune/tracktime/internal/metrics"
	"github.com/goodtune/tracktime/internal/storage"
	"github.com/golang-jwt/jwt/v5"
)

// refreshWindow is how close to expiry an access token is refreshed.
const refreshWindow = 60 * time.Second

type TokenRefreshError struct {
	Revoked bool
	Err     error
}

func (e *TokenRefreshError) Error() string {
	if e.Revoked {
		return fmt.Sprintf("refresh token rejected: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// A token without exp yields the zero time.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// NewCredential builds a cache record, taking the expiry from the access
// token when it is a JWT.
func NewCredential(name, access, refresh string) storage.Credential {
	cred := storage.Credential{Name: name, AccessToken: access, RefreshToken: refresh}
	if exp, err := TokenExpiry(access); err == nil {
		cred.ExpiresAt = exp
	}
	return cred
}

// accessToken returns a usable access token, refreshing it first when it is
// about to expire or force is set.
func (r *REST) accessToken(ctx context.Context, force bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, err := r.creds.Get(ctx, r.credName)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("load credential %s: %w", r.credName, err)
	}

	expiresAt := cred.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt, _ = TokenExpiry(cred.AccessToken)
	}

	stale := !expiresAt.IsZero() && !r.clock.Now().Add(refreshWindow).Before(expiresAt)
	if !force && !stale && cred.AccessToken != "" {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		return "", &TokenRefreshError{Revoked: true, Err: errors.New("no refresh token cached")}
	}

	access, refresh, err := r.refresh(ctx, cred.RefreshToken)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.TokenRefreshesTotal.WithLabelValues("ok").Inc()

	if refresh == "" {
		refresh = cred.RefreshToken
	}
	updated := NewCredential(r.credName, access, refresh)
	if err := r.creds.Upsert(ctx, updated); err != nil {
		return "", fmt.Errorf("store refreshed credential: %w", err)
	}

	r.logger.Info().
		Time("expires_at", updated.ExpiresAt).
		Bool("forced", force).
		Msg("Access token refreshed")

	return access, nil
}

// refresh exchanges a refresh token for a new access token. Servers that
// rotate refresh tokens return the new one alongside.
func (r *REST) refresh(ctx context.Context, refreshToken string) (access, refresh string, err error) {
	payload, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return "", "", &TokenRefreshError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url(r.refreshPath), bytes.NewReader(payload))
	if err != nil {
		return "", "", &TokenRefreshError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", &TokenRefreshError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", &TokenRefreshError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		// The refresh token itself has expired or been blacklisted
		revoked := resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized
		return "", "", &TokenRefreshError{
			Revoked: revoked,
			Err:     fmt.Errorf("refresh failed with status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var result struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", "", &TokenRefreshError{Err: err}
	}
	if result.Access == "" {
		return "", "", &TokenRefreshError{Err: errors.New("refresh response has no access token")}
	}

	return result.Access, result.Refresh, nil
}
