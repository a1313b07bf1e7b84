package upload

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/storage"
	"github.com/goodtune/tracktime/internal/storage/bolt"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *bolt.Store {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "tracktime.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testDay() time.Time {
	return time.Date(2024, time.March, 9, 0, 0, 0, 0, time.Local)
}

func testLedger() *ledger.Ledger {
	l := ledger.New(testDay())
	l.Add("Chrome", 3725)
	l.Add("Code", 61)
	return l
}

// fakeDestination records every Put and fails while err is set.
type fakeDestination struct {
	mu     sync.Mutex
	puts   []fakePut
	err    error
	putted chan fakePut
}

type fakePut struct {
	date time.Time
	body []byte
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{putted: make(chan fakePut, 16)}
}

func (d *fakeDestination) Name() string { return "fake" }

func (d *fakeDestination) Put(ctx context.Context, date time.Time, body []byte) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	p := fakePut{date: date, body: body}
	d.puts = append(d.puts, p)
	d.putted <- p
	return "fake://" + date.Format(ledger.DateLayout), nil
}

func (d *fakeDestination) Fetch(ctx context.Context, date time.Time) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.puts) - 1; i >= 0; i-- {
		if d.puts[i].date.Equal(date) {
			return d.puts[i].body, nil
		}
	}
	return nil, ErrNotFound
}

func (d *fakeDestination) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDestination) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.puts)
}

func journalFor(t *testing.T, store storage.Store, date string) []storage.UploadRecord {
	t.Helper()
	records, err := store.Uploads().List(context.Background(), storage.UploadFilter{Date: date})
	require.NoError(t, err)
	return records
}
