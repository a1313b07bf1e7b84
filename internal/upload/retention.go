package upload

import (
	"context"
	"time"

	"github.com/goodtune/tracktime/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// RetentionScheduler prunes old upload journal entries once at start and
// then every local midnight.
type RetentionScheduler struct {
	journal   storage.UploadStore
	retention time.Duration
	clock     clockwork.Clock
	logger    zerolog.Logger
	stopChan  chan struct{}
	done      chan struct{}
}

// NewRetentionScheduler creates a scheduler keeping days of journal history.
func NewRetentionScheduler(journal storage.UploadStore, days int, clock clockwork.Clock, logger zerolog.Logger) *RetentionScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if days <= 0 {
		days = 90
	}
	return &RetentionScheduler{
		journal:   journal,
		retention: time.Duration(days) * 24 * time.Hour,
		clock:     clock,
		logger:    logger.With().Str("component", "retention-scheduler").Logger(),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the scheduler
func (rs *RetentionScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Dur("retention", rs.retention).
		Msg("Upload journal retention scheduler started")
}

// Stop stops the scheduler and waits for a running prune to finish
func (rs *RetentionScheduler) Stop() {
	close(rs.stopChan)
	<-rs.done
	rs.logger.Info().Msg("Upload journal retention scheduler stopped")
}

func (rs *RetentionScheduler) run() {
	defer close(rs.done)

	rs.Prune(context.Background())

	for {
		next := nextMidnight(rs.clock.Now())
		wait := next.Sub(rs.clock.Now())

		rs.logger.Debug().
			Time("next_prune", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next journal prune")

		select {
		case <-rs.clock.After(wait):
			rs.Prune(context.Background())
		case <-rs.stopChan:
			return
		}
	}
}

// Prune deletes journal entries older than the retention period.
func (rs *RetentionScheduler) Prune(ctx context.Context) int {
	cutoff := rs.clock.Now().Add(-rs.retention)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := rs.journal.DeleteBefore(ctx, cutoff)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to prune upload journal")
		return 0
	}

	rs.logger.Info().
		Int("records_deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Upload journal pruned")
	return deleted
}

// nextMidnight returns the start of the day after t, in t's location.
func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
