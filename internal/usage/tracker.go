package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/metrics"
	"github.com/goodtune/tracktime/internal/sampler"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the sampling period
	DefaultInterval = time.Second

	// DefaultMaxGap is the longest interval between ticks that is still
	// attributed; anything longer is treated as suspend and dropped
	DefaultMaxGap = 5 * time.Minute
)

// ErrStopped is returned by Snapshot when the tracker is not running
var ErrStopped = errors.New("usage: tracker stopped")

// Sampler takes one foreground reading
type Sampler interface {
	Sample(ctx context.Context) sampler.Result
}

// LedgerStore loads and persists daily ledgers
type LedgerStore interface {
	Load(date time.Time) (*ledger.Ledger, error)
	Save(l *ledger.Ledger) error
}

// Config holds tracker configuration
type Config struct {
	Interval time.Duration

	// MaxGap is the longest interval between ticks that is still
	// attributed. Zero selects DefaultMaxGap; a negative value keeps
	// every interval.
	MaxGap time.Duration
}

type snapshotRequest struct {
	reply chan *ledger.Ledger
}

// Tracker is the accumulator loop. It is the only writer of the current
// ledger; everything else reads through Snapshot.
type Tracker struct {
	sampler  Sampler
	store    LedgerStore
	clock    clockwork.Clock
	interval time.Duration
	maxGap   time.Duration
	logger   zerolog.Logger

	onTick    func(Status)
	snapshots chan snapshotRequest
	rollovers chan *ledger.Ledger
	done      chan struct{}

	// Owned by the Run goroutine.
	current *ledger.Ledger
	last    time.Time
	carry   time.Duration
	session *Session
}

// NewTracker creates a new accumulator
func NewTracker(s Sampler, store LedgerStore, clock clockwork.Clock, config Config, logger zerolog.Logger) *Tracker {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxGap == 0 {
		config.MaxGap = DefaultMaxGap
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Tracker{
		sampler:   s,
		store:     store,
		clock:     clock,
		interval:  config.Interval,
		maxGap:    config.MaxGap,
		logger:    logger.With().Str("component", "usage-tracker").Logger(),
		snapshots: make(chan snapshotRequest),
		rollovers: make(chan *ledger.Ledger, 4),
		done:      make(chan struct{}),
	}
}

// OnTick registers a hook run on the loop goroutine after every tick.
// Must be called before Run.
func (t *Tracker) OnTick(fn func(Status)) {
	t.onTick = fn
}

// Rollovers delivers the final state of each day once the date changes.
func (t *Tracker) Rollovers() <-chan *ledger.Ledger {
	return t.rollovers
}

// Snapshot returns a copy of the ledger being accumulated. After Run has
// returned it yields the final state.
func (t *Tracker) Snapshot(ctx context.Context) (*ledger.Ledger, error) {
	req := snapshotRequest{reply: make(chan *ledger.Ledger, 1)}
	select {
	case t.snapshots <- req:
	case <-t.done:
		if t.current == nil {
			return nil, ErrStopped
		}
		return t.current.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case l := <-req.reply:
		return l, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run samples every interval until ctx is cancelled or the sampler reports
// a fatal error. The ledger is saved before returning in both cases.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.done)

	if err := t.begin(); err != nil {
		return err
	}

	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().
		Dur("interval", t.interval).
		Dur("max_gap", t.maxGap).
		Str("date", t.current.DateString()).
		Msg("Usage tracker started")

	for {
		select {
		case <-ctx.Done():
			t.endSession()
			t.save()
			t.logger.Info().Msg("Usage tracker stopped")
			return nil

		case req := <-t.snapshots:
			req.reply <- t.current.Clone()

		case <-ticker.Chan():
			if err := t.tick(ctx); err != nil {
				t.endSession()
				t.save()
				return err
			}
		}
	}
}

// begin loads today's ledger and sets the attribution origin.
func (t *Tracker) begin() error {
	now := t.clock.Now()
	l, err := t.store.Load(now)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	t.current = l
	t.last = now
	t.carry = 0
	metrics.TodaySeconds.Set(float64(l.Total()))
	return nil
}

func (t *Tracker) tick(ctx context.Context) error {
	res := t.sampler.Sample(ctx)
	now := t.clock.Now()
	metrics.TicksTotal.WithLabelValues(res.Kind.String(), res.Reason).Inc()

	if !t.current.SameDay(now) {
		t.rollover(now)
	}

	switch res.Kind {
	case sampler.KindFatal:
		t.logger.Error().Err(res.Err).Msg("Foreground sampling failed")
		return fmt.Errorf("sample foreground app: %w", res.Err)

	case sampler.KindSkip, sampler.KindTransient:
		if t.session != nil {
			t.logger.Debug().
				Str("kind", res.Kind.String()).
				Str("reason", res.Reason).
				Str("app", res.App).
				AnErr("cause", res.Err).
				Msg("Nothing to track")
		}
		t.endSession()
		t.last = now
		t.carry = 0
		t.notify(now, res)
		return nil
	}

	elapsed := now.Sub(t.last)
	t.last = now
	if elapsed < 0 {
		elapsed = 0
	}
	if t.maxGap > 0 && elapsed > t.maxGap {
		t.logger.Info().
			Dur("gap", elapsed).
			Str("app", res.App).
			Msg("Discarding gap longer than max_gap")
		metrics.DiscardedSecondsTotal.Add(elapsed.Seconds())
		elapsed = 0
		t.carry = 0
	}

	t.carry += elapsed
	secs := int64(t.carry / time.Second)
	t.carry -= time.Duration(secs) * time.Second

	t.attribute(now, res.App, secs)
	t.save()
	t.notify(now, res)
	return nil
}

func (t *Tracker) attribute(now time.Time, app string, secs int64) {
	if t.session == nil || t.session.App != app {
		t.endSession()
		t.session = &Session{App: app, StartedAt: now}
		t.logger.Debug().Str("app", app).Msg("Focus changed")
	}
	t.session.LastActivity = now
	t.session.AccumulatedSeconds += secs

	t.current.Add(app, secs)
	if secs > 0 {
		metrics.TrackedSecondsTotal.WithLabelValues(app).Add(float64(secs))
	}
	metrics.TodaySeconds.Set(float64(t.current.Total()))
}

func (t *Tracker) endSession() {
	if t.session == nil {
		return
	}
	t.logger.Debug().
		Str("app", t.session.App).
		Int64("seconds", t.session.AccumulatedSeconds).
		Time("started_at", t.session.StartedAt).
		Msg("Focus session ended")
	t.session = nil
}

// rollover closes out the current day and switches to now's day. The
// interval that crosses midnight is attributed to the new day.
func (t *Tracker) rollover(now time.Time) {
	previous := t.current
	t.save()
	metrics.LedgerRollovers.Inc()

	select {
	case t.rollovers <- previous.Clone():
	default:
		t.logger.Warn().Str("date", previous.DateString()).Msg("Rollover queue full, day will only be uploaded by the next scheduled run")
	}

	l, err := t.store.Load(now)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to load new day's ledger, starting empty")
		l = ledger.New(now)
	}
	t.current = l
	metrics.TodaySeconds.Set(float64(l.Total()))

	t.logger.Info().
		Str("closed", previous.DateString()).
		Str("opened", l.DateString()).
		Int64("closed_seconds", previous.Total()).
		Msg("Day rolled over")
}

func (t *Tracker) save() {
	if t.current == nil {
		return
	}
	if err := t.store.Save(t.current); err != nil {
		metrics.LedgerWritesTotal.WithLabelValues("error").Inc()
		t.logger.Error().Err(err).Str("date", t.current.DateString()).Msg("Failed to save ledger")
		return
	}
	metrics.LedgerWritesTotal.WithLabelValues("ok").Inc()
}

func (t *Tracker) notify(now time.Time, res sampler.Result) {
	if t.onTick == nil {
		return
	}
	var session *Session
	if t.session != nil {
		s := *t.session
		session = &s
	}
	t.onTick(Status{At: now, Result: res, Session: session, Today: t.current.Clone()})
}
