package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/metrics"
	"github.com/goodtune/tracktime/internal/retry"
	"github.com/goodtune/tracktime/internal/storage"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	// DefaultInterval is the period between scheduled uploads
	DefaultInterval = time.Hour

	// DefaultTimeout bounds a single upload including retries
	DefaultTimeout = 30 * time.Second
)

// SnapshotFunc returns the ledger currently being accumulated.
type SnapshotFunc func(ctx context.Context) (*ledger.Ledger, error)

// Config holds uploader configuration
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Policy   retry.Policy
}

// Uploader pushes ledgers to a destination on a schedule, on day rollover
// and once more at shutdown. Failures are logged and journaled, never fatal.
type Uploader struct {
	dest     Destination
	journal  storage.UploadStore
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	policy   retry.Policy
	breaker  *gobreaker.CircuitBreaker
	logger   zerolog.Logger
}

// New creates an uploader. journal may be nil.
func New(dest Destination, journal storage.UploadStore, clock clockwork.Clock, config Config, logger zerolog.Logger) *Uploader {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Policy.MaxAttempts < 1 {
		config.Policy.MaxAttempts = 1
	}
	if config.Policy.Clock == nil {
		config.Policy.Clock = clock
	}

	u := &Uploader{
		dest:     dest,
		journal:  journal,
		clock:    clock,
		interval: config.Interval,
		timeout:  config.Timeout,
		policy:   config.Policy,
		logger:   logger.With().Str("component", "uploader").Str("destination", dest.Name()).Logger(),
	}

	u.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upload-" + dest.Name(),
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UploadBreakerState.WithLabelValues(dest.Name()).Set(float64(to))
			u.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Upload circuit breaker changed state")
		},
	})
	metrics.UploadBreakerState.WithLabelValues(dest.Name()).Set(float64(gobreaker.StateClosed))

	return u
}

// Destination returns the configured destination.
func (u *Uploader) Destination() Destination {
	return u.dest
}

// Run uploads a snapshot every interval and each day closed by the tracker.
// When ctx is cancelled it performs exactly one final upload of the current
// day, with its own timeout, and returns.
func (u *Uploader) Run(ctx context.Context, snapshot SnapshotFunc, rollovers <-chan *ledger.Ledger) error {
	ticker := u.clock.NewTicker(u.interval)
	defer ticker.Stop()

	u.logger.Info().
		Dur("interval", u.interval).
		Msg("Uploader started")

	for {
		select {
		case <-ctx.Done():
			u.shutdown(ctx, snapshot, rollovers)
			u.logger.Info().Msg("Uploader stopped")
			return nil

		case closed, ok := <-rollovers:
			if !ok {
				rollovers = nil
				continue
			}
			u.pushWithTimeout(ctx, closed, storage.TriggerRollover)

		case <-ticker.Chan():
			snapCtx, cancel := context.WithTimeout(ctx, u.timeout)
			l, err := snapshot(snapCtx)
			cancel()
			if err != nil {
				u.logger.Warn().Err(err).Msg("Could not take ledger snapshot for upload")
				continue
			}
			u.pushWithTimeout(ctx, l, storage.TriggerInterval)
		}
	}
}

func (u *Uploader) shutdown(ctx context.Context, snapshot SnapshotFunc, rollovers <-chan *ledger.Ledger) {
	final := context.WithoutCancel(ctx)

	// Days closed just before shutdown are still queued.
	for drained := false; !drained && rollovers != nil; {
		select {
		case closed, ok := <-rollovers:
			if !ok {
				drained = true
				continue
			}
			u.pushWithTimeout(final, closed, storage.TriggerRollover)
		default:
			drained = true
		}
	}

	snapCtx, cancel := context.WithTimeout(final, u.timeout)
	l, err := snapshot(snapCtx)
	cancel()
	if err != nil {
		u.logger.Error().Err(err).Msg("Could not take final ledger snapshot, skipping final upload")
		return
	}
	u.pushWithTimeout(final, l, storage.TriggerShutdown)
}

func (u *Uploader) pushWithTimeout(ctx context.Context, l *ledger.Ledger, trigger storage.Trigger) {
	pushCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	_ = u.Push(pushCtx, l, trigger)
}

// Push serializes and uploads one ledger.
func (u *Uploader) Push(ctx context.Context, l *ledger.Ledger, trigger storage.Trigger) error {
	body, err := ledger.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal ledger %s: %w", l.DateString(), err)
	}
	_, err = u.UploadOnce(ctx, l.Date(), body, trigger)
	return err
}

// UploadOnce pushes body as the ledger for date with retries, records the
// outcome in the journal and returns the record.
func (u *Uploader) UploadOnce(ctx context.Context, date time.Time, body []byte, trigger storage.Trigger) (storage.UploadRecord, error) {
	record := storage.UploadRecord{
		ID:          uuid.NewString(),
		Date:        date.Format(ledger.DateLayout),
		Destination: u.dest.Name(),
		Trigger:     trigger,
		Bytes:       len(body),
		StartedAt:   u.clock.Now(),
	}

	policy := u.policy
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		u.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Str("date", record.Date).
			Msg("Upload failed, retrying")
	}

	remote, err := retry.Do(ctx, policy, classifyAttempt, func() (string, error) {
		record.Attempts++
		res, err := u.breaker.Execute(func() (interface{}, error) {
			return u.dest.Put(ctx, date, body)
		})
		if err != nil {
			return "", err
		}
		return res.(string), nil
	})

	record.Duration = u.clock.Since(record.StartedAt)
	record.Remote = remote
	record.Success = err == nil
	metrics.UploadDuration.WithLabelValues(record.Destination).Observe(record.Duration.Seconds())

	if err != nil {
		record.Error = err.Error()
		metrics.UploadsTotal.WithLabelValues(record.Destination, "error").Inc()
		u.logger.Error().
			Err(err).
			Str("date", record.Date).
			Str("trigger", string(trigger)).
			Int("attempts", record.Attempts).
			Msg("Upload failed")
	} else {
		metrics.UploadsTotal.WithLabelValues(record.Destination, "ok").Inc()
		u.logger.Info().
			Str("date", record.Date).
			Str("remote", remote).
			Str("trigger", string(trigger)).
			Int("bytes", record.Bytes).
			Dur("duration", record.Duration).
			Msg("Ledger uploaded")
	}

	u.recordJournal(ctx, record)
	return record, err
}

func (u *Uploader) recordJournal(ctx context.Context, record storage.UploadRecord) {
	if u.journal == nil {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := u.journal.Add(jctx, record); err != nil {
		u.logger.Warn().Err(err).Str("date", record.Date).Msg("Failed to record upload in journal")
	}
}

// classifyAttempt stops retrying while the breaker is open.
func classifyAttempt(err error) retry.Action {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return retry.Stop
	}
	return Classify(err)
}
