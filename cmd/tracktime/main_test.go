package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/tracktime/internal/config"
	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/upload"
	"github.com/rs/zerolog"
)

type fakeDestination struct {
	bodies  map[string][]byte
	fetched []string
	dates   []string // non-nil makes the destination list its month
}

func (f *fakeDestination) Name() string { return "fake" }

func (f *fakeDestination) Put(ctx context.Context, date time.Time, body []byte) (string, error) {
	return "", errors.New("read only")
}

func (f *fakeDestination) Fetch(ctx context.Context, date time.Time) ([]byte, error) {
	key := date.Format(ledger.DateLayout)
	f.fetched = append(f.fetched, key)
	body, ok := f.bodies[key]
	if !ok {
		return nil, upload.ErrNotFound
	}
	return body, nil
}

type listingDestination struct {
	*fakeDestination
}

func (l listingDestination) MonthDates(ctx context.Context, year int, month time.Month) ([]string, error) {
	return l.dates, nil
}

func ledgerBody(t *testing.T, date string, apps map[string]int64) []byte {
	t.Helper()
	d, err := ledger.ParseDate(date)
	if err != nil {
		t.Fatal(err)
	}
	l := ledger.New(d)
	for app, secs := range apps {
		l.Add(app, secs)
	}
	body, err := ledger.Marshal(l)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestFetchMonthSkipsMissingDays(t *testing.T) {
	dest := &fakeDestination{bodies: map[string][]byte{
		"2024-03-02": ledgerBody(t, "2024-03-02", map[string]int64{"Code": 60}),
		"2024-03-05": ledgerBody(t, "2024-03-05", map[string]int64{"Code": 30, "Chrome": 10}),
	}}
	now := time.Date(2024, time.March, 6, 12, 0, 0, 0, time.Local)

	rep, err := fetchMonth(context.Background(), dest, 2024, time.March, now, zerolog.Nop())
	if err != nil {
		t.Fatalf("fetch month: %v", err)
	}
	if len(dest.fetched) != 6 {
		t.Fatalf("expected days 1-6 to be requested, got %v", dest.fetched)
	}
	if rep.Days != 2 || rep.Total != 100 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.Entries[0].App != "Code" || rep.Entries[0].Seconds != 90 {
		t.Fatalf("unexpected first entry %+v", rep.Entries[0])
	}
}

func TestFetchMonthUsesListing(t *testing.T) {
	inner := &fakeDestination{
		bodies: map[string][]byte{"2024-02-10": ledgerBody(t, "2024-02-10", map[string]int64{"Slack": 5})},
		dates:  []string{"2024-02-10", "bogus"},
	}

	rep, err := fetchMonth(context.Background(), listingDestination{inner}, 2024, time.February, time.Now(), zerolog.Nop())
	if err != nil {
		t.Fatalf("fetch month: %v", err)
	}
	if len(inner.fetched) != 1 {
		t.Fatalf("expected only listed dates to be fetched, got %v", inner.fetched)
	}
	if rep.Total != 5 {
		t.Fatalf("unexpected total %d", rep.Total)
	}
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "tracker:\n  sample_interval: 1s\n  sampel_rate: 2\nuplod:\n  enabled: true\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("find unknown keys: %v", err)
	}
	if strings.Join(unknown, ",") != "tracker.sampel_rate,uplod.enabled" {
		t.Fatalf("unexpected unknown keys %v", unknown)
	}

	if unknown, err := findUnknownKeys(filepath.Join(t.TempDir(), "missing.yaml")); err != nil || len(unknown) != 0 {
		t.Fatalf("missing file should have no unknown keys, got %v %v", unknown, err)
	}
}

func TestDumpConfigHighlightsChanges(t *testing.T) {
	defaults := config.Defaults()
	cfg := config.Defaults()
	cfg.Upload.Interval = "10m"
	cfg.Upload.Dropbox.Token = "secret"

	var buf bytes.Buffer
	dumpConfig(&buf, cfg, defaults, []string{"bogus.key"})
	out := buf.String()

	if !strings.Contains(out, "interval = 10m  (modified from default: 1h)") {
		t.Errorf("modified interval not highlighted:\n%s", out)
	}
	if strings.Contains(out, "secret") {
		t.Errorf("token leaked into dump:\n%s", out)
	}
	if !strings.Contains(out, "bogus.key = (unknown key") {
		t.Errorf("unknown key missing from dump:\n%s", out)
	}
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracktime.log")
	var out bytes.Buffer

	logger, closeLog, err := setupLogger(config.LoggingConfig{Level: "info", Format: "json", File: path}, &out)
	if err != nil {
		t.Fatalf("setup logger: %v", err)
	}
	logger.Info().Str("app", "Code").Msg("hello")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"app":"Code"`) || !strings.Contains(out.String(), `"message":"hello"`) {
		t.Fatalf("expected the line in both sinks, file=%q out=%q", data, out.String())
	}
}

func TestOpenStorageRejectsUnknownType(t *testing.T) {
	if _, err := openStorage(config.StorageConfig{Type: "sqlite"}); err == nil {
		t.Fatal("expected error for unknown storage type")
	}

	store, err := openStorage(config.StorageConfig{Type: "bolt", Path: filepath.Join(t.TempDir(), "s.bolt")})
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	_ = store.Close()
}

func TestOpenStorageWhileTrackerHoldsIt(t *testing.T) {
	cfg := config.StorageConfig{Type: "bolt", Path: filepath.Join(t.TempDir(), "s.bolt")}
	tracker, err := openStorage(cfg)
	if err != nil {
		t.Fatalf("open for tracker: %v", err)
	}
	defer func() { _ = tracker.Close() }()

	start := time.Now()
	cli, err := openStorage(cfg)
	if err != nil {
		t.Fatalf("open for subcommand: %v", err)
	}
	defer func() { _ = cli.Close() }()
	if _, err := cli.Credentials().Get(context.Background(), "rest"); err == nil {
		t.Fatal("expected no credential yet")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("subcommand waited %s on the tracker's store", elapsed)
	}
}

func TestRemoteDestinationSkipsStorageWithoutCredentials(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Storage = config.StorageConfig{Type: "bolt", Path: filepath.Join(blocker, "s.bolt")}
	cfg.Upload.Enabled = true
	cfg.Upload.Destination = "dropbox"
	cfg.Upload.Dropbox.Token = "tok"

	dest, release, err := remoteDestination(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("dropbox destination should not need storage: %v", err)
	}
	defer release()
	if dest.Name() != "dropbox" {
		t.Fatalf("destination = %q, want dropbox", dest.Name())
	}

	cfg.Upload.Destination = "rest"
	if _, _, err := remoteDestination(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected the rest destination to open storage and fail")
	}
}
