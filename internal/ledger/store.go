package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

const (
	filePrefix = "TrackedTime("
	fileSuffix = ").json"
	lockName   = ".ledger.lock"
)

// Store reads and writes ledger files under a root directory laid out as
// {root}/{YYYY}/{MonthName-YYYY}/TrackedTime(YYYY-MM-DD).json.
type Store struct {
	root   string
	mu     sync.Mutex
	lock   *flock.Flock
	logger zerolog.Logger
}

// NewStore creates a store rooted at root. Nothing is created on disk until
// the first write.
func NewStore(root string, logger zerolog.Logger) *Store {
	return &Store{
		root:   root,
		lock:   flock.New(filepath.Join(root, lockName)),
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// Root returns the base directory.
func (s *Store) Root() string {
	return s.root
}

// MonthDir returns the directory holding a month's ledgers.
func (s *Store) MonthDir(year int, month time.Month) string {
	return filepath.Join(s.root, fmt.Sprintf("%04d", year), fmt.Sprintf("%s-%04d", month.String(), year))
}

// FileName returns the ledger file name for date.
func FileName(date time.Time) string {
	return filePrefix + date.Format(DateLayout) + fileSuffix
}

// Path returns the ledger file path for date.
func (s *Store) Path(date time.Time) string {
	return filepath.Join(s.MonthDir(date.Year(), date.Month()), FileName(date))
}

// Load returns the ledger for date. A missing file is created empty. A file
// that cannot be parsed is replaced with an empty ledger and a warning is
// logged; the caller gets the empty ledger and no error.
func (s *Store) Load(date time.Time) (*Ledger, error) {
	path := s.Path(date)

	var result *Ledger
	err := s.withLock(func() error {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			result = New(date)
			s.logger.Info().Str("path", path).Msg("Creating ledger")
			return s.writeLedger(path, result)
		}
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}

		l, err := Parse(data)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("path", path).
				Msg("Ledger is corrupt, resetting to empty")
			result = New(date)
			return s.writeLedger(path, result)
		}

		// Trust the file name over the fields when they disagree.
		if !l.SameDay(date) {
			l.Year, l.Month, l.Day = date.Year(), int(date.Month()), date.Day()
		}
		result = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Save writes l's apps to its day file. Other top-level fields already in the
// file are preserved.
func (s *Store) Save(l *Ledger) error {
	path := s.Path(l.Date())

	return s.withLock(func() error {
		doc := make(map[string]json.RawMessage)
		if data, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(data, &doc); err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("Discarding unreadable ledger on save")
				doc = make(map[string]json.RawMessage)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read ledger: %w", err)
		}

		apps, err := EncodeApps(l.Apps)
		if err != nil {
			return err
		}
		doc["apps"] = apps
		if err := setDateFields(doc, l, false); err != nil {
			return err
		}

		body, err := marshalDocument(doc)
		if err != nil {
			return err
		}
		return writeAtomic(path, body)
	})
}

// Read returns the raw bytes and parsed ledger for date without creating
// anything. A missing file yields an error wrapping os.ErrNotExist.
func (s *Store) Read(date time.Time) ([]byte, *Ledger, error) {
	path := s.Path(date)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	l, err := Parse(data)
	if err != nil {
		return data, nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, l, nil
}

// MonthFiles lists the ledger files of a month in date order.
func (s *Store) MonthFiles(year int, month time.Month) ([]string, error) {
	dir := s.MonthDir(year, month)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) writeLedger(path string, l *Ledger) error {
	body, err := Marshal(l)
	if err != nil {
		return err
	}
	return writeAtomic(path, body)
}

// withLock serializes access within the process and, through an advisory
// lock file, with other tracktime processes sharing the root.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("create ledger root: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock ledger root: %w", err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to release ledger lock")
		}
	}()

	return fn()
}

func writeAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tracktime-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
