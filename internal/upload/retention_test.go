package upload

import (
	"context"
	"testing"
	"time"

	"github.com/goodtune/tracktime/internal/storage"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextMidnight(t *testing.T) {
	at := time.Date(2024, time.December, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), nextMidnight(at))

	midnight := time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, midnight.AddDate(0, 0, 1), nextMidnight(midnight))
}

func TestRetentionSchedulerPrunes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, time.June, 1, 23, 0, 0, 0, time.Local)
	clock := clockwork.NewFakeClockAt(now)

	add := func(date string, at time.Time) {
		require.NoError(t, store.Uploads().Add(ctx, storage.UploadRecord{Date: date, StartedAt: at}))
	}
	add("2024-01-01", now.AddDate(0, 0, -100))
	add("2024-05-31", now.AddDate(0, 0, -1))

	rs := NewRetentionScheduler(store.Uploads(), 30, clock, zerolog.Nop())
	rs.Start()

	// Startup prune runs before the scheduler waits for midnight.
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	all, err := store.Uploads().List(ctx, storage.UploadFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "2024-05-31", all[0].Date)

	// A record that ages out by the next midnight is pruned then.
	add("2024-05-02", now.AddDate(0, 0, -30).Add(30*time.Minute))
	clock.Advance(time.Hour)
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	rs.Stop()

	all, err = store.Uploads().List(ctx, storage.UploadFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "2024-05-31", all[0].Date)
}
