package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goodtune/tracktime/internal/config"
	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// REST upserts ledgers into a JSON API keyed by {year, month, day},
// authenticating with a JWT bearer token from the credential cache.
type REST struct {
	baseURL      string
	resourcePath string
	refreshPath  string
	credName     string
	creds        storage.CredentialStore
	client       *http.Client
	clock        clockwork.Clock
	logger       zerolog.Logger

	mu sync.Mutex // serializes token refresh
}

// remoteRecord is one row of the resource collection.
type remoteRecord struct {
	ID    json.RawMessage `json:"id"`
	Year  int             `json:"year"`
	Month int             `json:"month"`
	Day   int             `json:"day"`
	Apps  json.RawMessage `json:"apps"`
}

// NewREST creates a REST destination. A nil client or clock selects the
// defaults.
func NewREST(cfg config.RESTConfig, creds storage.CredentialStore, client *http.Client, clock clockwork.Clock, logger zerolog.Logger) *REST {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	credName := cfg.CredentialName
	if credName == "" {
		credName = "rest"
	}
	return &REST{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		resourcePath: ensureSlashes(cfg.ResourcePath),
		refreshPath:  ensureSlashes(cfg.RefreshPath),
		credName:     credName,
		creds:        creds,
		client:       client,
		clock:        clock,
		logger:       logger.With().Str("component", "upload-rest").Logger(),
	}
}

func ensureSlashes(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func (r *REST) Name() string { return "rest" }

func (r *REST) url(p string) string {
	return r.baseURL + p
}

func (r *REST) Put(ctx context.Context, date time.Time, body []byte) (string, error) {
	l, err := ledger.Parse(body)
	if err != nil {
		return "", err
	}
	apps, err := ledger.EncodeApps(l.Apps)
	if err != nil {
		return "", err
	}

	existing, err := r.find(ctx, date)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	if existing != nil {
		remote := r.url(r.resourcePath) + recordID(existing.ID) + "/"
		payload, err := json.Marshal(map[string]json.RawMessage{"apps": apps})
		if err != nil {
			return "", err
		}
		if _, err := r.do(ctx, http.MethodPatch, remote, payload); err != nil {
			return "", err
		}
		r.logger.Debug().Str("url", remote).Msg("Updated remote ledger")
		return remote, nil
	}

	payload, err := json.Marshal(struct {
		Year  int             `json:"year"`
		Month int             `json:"month"`
		Day   int             `json:"day"`
		Apps  json.RawMessage `json:"apps"`
	}{date.Year(), int(date.Month()), date.Day(), apps})
	if err != nil {
		return "", err
	}

	respBody, err := r.do(ctx, http.MethodPost, r.url(r.resourcePath), payload)
	if err != nil {
		return "", err
	}

	remote := r.url(r.resourcePath)
	var created remoteRecord
	if json.Unmarshal(respBody, &created) == nil && len(created.ID) > 0 {
		remote += recordID(created.ID) + "/"
	}
	r.logger.Debug().Str("url", remote).Msg("Created remote ledger")
	return remote, nil
}

func (r *REST) Fetch(ctx context.Context, date time.Time) ([]byte, error) {
	record, err := r.find(ctx, date)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Apps  json.RawMessage `json:"apps"`
		Day   int             `json:"day"`
		Month int             `json:"month"`
		Year  int             `json:"year"`
	}{record.Apps, record.Day, record.Month, record.Year})
}

// find looks up the record for date. It accepts both a bare list and a
// paginated {"results": [...]} response.
func (r *REST) find(ctx context.Context, date time.Time) (*remoteRecord, error) {
	q := url.Values{}
	q.Set("year", strconv.Itoa(date.Year()))
	q.Set("month", strconv.Itoa(int(date.Month())))
	q.Set("day", strconv.Itoa(date.Day()))

	body, err := r.do(ctx, http.MethodGet, r.url(r.resourcePath)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var records []remoteRecord
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var page struct {
			Results []remoteRecord `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", r.resourcePath, err)
		}
		records = page.Results
	} else if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", r.resourcePath, err)
	}

	// Servers that ignore the filter return everything; match locally.
	for i := range records {
		rec := records[i]
		if rec.Year == date.Year() && rec.Month == int(date.Month()) && rec.Day == date.Day() {
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

// do sends an authenticated request. A 401 forces one token refresh and a
// single retry.
func (r *REST) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	token, err := r.accessToken(ctx, false)
	if err != nil {
		return nil, err
	}

	code, body, err := r.send(ctx, method, target, payload, token)
	if err != nil {
		return nil, err
	}

	if code == http.StatusUnauthorized {
		r.logger.Debug().Str("method", method).Str("url", target).Msg("Access token rejected, refreshing")
		if token, err = r.accessToken(ctx, true); err != nil {
			return nil, err
		}
		if code, body, err = r.send(ctx, method, target, payload, token); err != nil {
			return nil, err
		}
	}

	if code < 200 || code > 299 {
		return nil, &StatusError{Method: method, URL: target, Code: code, Body: truncate(string(body), 256)}
	}
	return body, nil
}

func (r *REST) send(ctx context.Context, method, target string, payload []byte, token string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read %s %s response: %w", method, target, err)
	}
	return resp.StatusCode, body, nil
}

// recordID renders a JSON id (number or string) for use in a URL.
func recordID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return url.PathEscape(s)
	}
	return strings.TrimSpace(string(raw))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
