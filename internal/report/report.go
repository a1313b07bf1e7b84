// Package report reads ledgers back as app/duration listings.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/tracktime/internal/hms"
	"github.com/goodtune/tracktime/internal/ledger"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultCacheSize covers a couple of months of daily files.
const DefaultCacheSize = 64

// Report is an aggregated listing, sorted by descending duration then name.
type Report struct {
	Entries []ledger.Entry
	Total   int64
	Days    int // ledgers that contributed
}

func newReport(apps map[string]int64, days int) Report {
	entries := ledger.SortedEntries(apps)
	var total int64
	for _, e := range entries {
		total += e.Seconds
	}
	return Report{Entries: entries, Total: total, Days: days}
}

// Reader answers day and month queries from the local ledger tree.
type Reader struct {
	store  *ledger.Store
	cache  *lru.Cache[string, *ledger.Ledger]
	logger zerolog.Logger
}

// NewReader creates a reader over store with an LRU of parsed files.
func NewReader(store *ledger.Store, cacheSize int, logger zerolog.Logger) (*Reader, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *ledger.Ledger](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create ledger cache: %w", err)
	}
	return &Reader{
		store:  store,
		cache:  cache,
		logger: logger.With().Str("component", "report").Logger(),
	}, nil
}

// Day reports a single day. A day without a ledger file is an error
// wrapping os.ErrNotExist.
func (r *Reader) Day(ctx context.Context, date time.Time) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	l, err := r.load(r.store.Path(date))
	if err != nil {
		return Report{}, err
	}
	return newReport(l.Apps, 1), nil
}

// Month sums every ledger file in the month's directory. Unreadable files
// are logged and skipped.
func (r *Reader) Month(ctx context.Context, year int, month time.Month) (Report, error) {
	paths, err := r.store.MonthFiles(year, month)
	if err != nil {
		return Report{}, err
	}

	totals := make(map[string]int64)
	days := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		l, err := r.load(path)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable ledger")
			continue
		}
		for app, secs := range l.Apps {
			totals[app] += secs
		}
		days++
	}
	return newReport(totals, days), nil
}

// load parses a ledger file, reusing the cached copy while the file's
// size and modification time are unchanged.
func (r *Reader) load(path string) (*ledger.Ledger, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ledger %s: %w", filepath.Base(path), err)
	}

	key := fmt.Sprintf("%s|%d|%d", path, info.ModTime().UnixNano(), info.Size())
	if l, ok := r.cache.Get(key); ok {
		return l, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", filepath.Base(path), err)
	}
	l, err := ledger.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	r.cache.Add(key, l)
	return l, nil
}

// FromBytes reports a single ledger document, e.g. one fetched from a
// remote destination.
func FromBytes(body []byte) (Report, error) {
	l, err := ledger.Parse(body)
	if err != nil {
		return Report{}, err
	}
	return newReport(l.Apps, 1), nil
}

// Merge sums several ledger documents into one report.
func Merge(bodies ...[]byte) (Report, error) {
	totals := make(map[string]int64)
	var errs []error
	days := 0
	for _, body := range bodies {
		l, err := ledger.Parse(body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for app, secs := range l.Apps {
			totals[app] += secs
		}
		days++
	}
	return newReport(totals, days), errors.Join(errs...)
}

// Write prints one "HH:MM:SS  Name" line per entry under title, followed by
// a total line.
func Write(w io.Writer, title string, entries []ledger.Entry, colorize bool) error {
	heading := color.New(color.FgCyan, color.Bold)
	duration := color.New(color.FgYellow)
	total := color.New(color.Bold)
	if !colorize {
		heading.DisableColor()
		duration.DisableColor()
		total.DisableColor()
	}

	if _, err := heading.Fprintln(w, title); err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "  no tracked time")
		return err
	}

	var sum int64
	for _, e := range entries {
		sum += e.Seconds
		if _, err := duration.Fprint(w, hms.FromSeconds(e.Seconds)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "  %s\n", e.App); err != nil {
			return err
		}
	}
	_, err := total.Fprintf(w, "%s  Total\n", hms.FromSeconds(sum))
	return err
}
