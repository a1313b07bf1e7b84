package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/tracktime/internal/storage"
)

func TestCredentialStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	creds := store.Credentials()

	if _, err := creds.Get(ctx, "rest"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	expires := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	if err := creds.Upsert(ctx, storage.Credential{
		Name:         "rest",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    expires,
	}); err != nil {
		t.Fatalf("upsert credential: %v", err)
	}

	got, err := creds.Get(ctx, "rest")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" || !got.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected credential: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt to be set")
	}

	if err := creds.Delete(ctx, "rest"); err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	if err := creds.Delete(ctx, "rest"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUploadStoreListAndFilter(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	uploads := store.Uploads()
	base := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

	records := []storage.UploadRecord{
		{Date: "2024-03-08", Destination: "dropbox", StartedAt: base, Success: true},
		{Date: "2024-03-09", Destination: "dropbox", StartedAt: base.Add(time.Hour), Success: false, Error: "timeout"},
		{Date: "2024-03-09", Destination: "dropbox", StartedAt: base.Add(2 * time.Hour), Success: true},
	}
	for _, record := range records {
		if err := uploads.Add(ctx, record); err != nil {
			t.Fatalf("add upload: %v", err)
		}
	}

	all, err := uploads.List(ctx, storage.UploadFilter{})
	if err != nil {
		t.Fatalf("list uploads: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if !all[0].StartedAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("expected newest first, got %v", all[0].StartedAt)
	}
	if all[0].ID == "" {
		t.Fatal("expected generated ID")
	}

	day, err := uploads.List(ctx, storage.UploadFilter{Date: "2024-03-09"})
	if err != nil {
		t.Fatalf("list by date: %v", err)
	}
	if len(day) != 2 || day[1].Error != "timeout" {
		t.Fatalf("unexpected records for date: %+v", day)
	}

	limited, err := uploads.List(ctx, storage.UploadFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 record, got %d", len(limited))
	}

	none, err := uploads.List(ctx, storage.UploadFilter{Date: "2023-01-01"})
	if err != nil {
		t.Fatalf("list unknown date: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no records, got %d", len(none))
	}
}

func TestUploadStoreCleanup(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	uploads := store.Uploads()
	oldTime := time.Now().Add(-48 * time.Hour)

	if err := uploads.Add(ctx, storage.UploadRecord{Date: "2024-01-01", StartedAt: oldTime}); err != nil {
		t.Fatalf("add old upload: %v", err)
	}
	if err := uploads.Add(ctx, storage.UploadRecord{Date: "2024-01-01", StartedAt: oldTime.Add(time.Minute)}); err != nil {
		t.Fatalf("add old upload: %v", err)
	}
	if err := uploads.Add(ctx, storage.UploadRecord{Date: "2024-01-03", StartedAt: time.Now()}); err != nil {
		t.Fatalf("add recent upload: %v", err)
	}

	deleted, err := uploads.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete uploads before: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted records, got %d", deleted)
	}

	remaining, err := uploads.List(ctx, storage.UploadFilter{Date: "2024-01-01"})
	if err != nil {
		t.Fatalf("list after cleanup: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected date index to be pruned, got %d records", len(remaining))
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tracktime.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestStoreSharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracktime.bolt")
	daemon, err := Open(path)
	if err != nil {
		t.Fatalf("open first handle: %v", err)
	}
	defer func() { _ = daemon.Close() }()

	start := time.Now()
	cli, err := Open(path)
	if err != nil {
		t.Fatalf("open second handle: %v", err)
	}
	defer func() { _ = cli.Close() }()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("second open waited %s for the first handle", elapsed)
	}

	ctx := context.Background()
	if err := cli.Credentials().Upsert(ctx, storage.Credential{Name: "rest", AccessToken: "a"}); err != nil {
		t.Fatalf("upsert through second handle: %v", err)
	}
	got, err := daemon.Credentials().Get(ctx, "rest")
	if err != nil {
		t.Fatalf("get through first handle: %v", err)
	}
	if got.AccessToken != "a" {
		t.Fatalf("access token = %q, want a", got.AccessToken)
	}

	if err := daemon.Uploads().Add(ctx, storage.UploadRecord{Date: "2024-03-09", Trigger: storage.TriggerManual, Success: true}); err != nil {
		t.Fatalf("add through first handle: %v", err)
	}
	records, err := cli.Uploads().List(ctx, storage.UploadFilter{Date: "2024-03-09"})
	if err != nil {
		t.Fatalf("list through second handle: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}
