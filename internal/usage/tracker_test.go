package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/tracktime/internal/ledger"
	"github.com/goodtune/tracktime/internal/sampler"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// namedProbe reports the next name on each call, repeating the last one.
type namedProbe struct {
	names []string
	calls int
}

func (p *namedProbe) Foreground(ctx context.Context) (sampler.RawProcess, error) {
	i := p.calls
	if i >= len(p.names) {
		i = len(p.names) - 1
	}
	p.calls++
	return sampler.RawProcess{PID: int32(100 + i), Name: p.names[i]}, nil
}

func (p *namedProbe) Close() error { return nil }

type scriptedSampler struct {
	results []sampler.Result
	calls   int
}

func (s *scriptedSampler) Sample(ctx context.Context) sampler.Result {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i]
}

func newTestTracker(t *testing.T, s Sampler, start time.Time) (*Tracker, *ledger.Store, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(start)
	store := ledger.NewStore(t.TempDir(), zerolog.Nop())
	tracker := NewTracker(s, store, clock, Config{}, zerolog.Nop())
	if err := tracker.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tracker, store, clock
}

func tickN(t *testing.T, tracker *Tracker, clock *clockwork.FakeClock, n int, step time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		clock.Advance(step)
		if err := tracker.tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
}

func morning() time.Time {
	return time.Date(2024, time.March, 9, 10, 0, 0, 0, time.Local)
}

func TestTrackerAttributesElapsedTime(t *testing.T) {
	probe := &namedProbe{names: []string{"chrome.exe", "chrome.exe", "chrome.exe", "Code.exe", "Code.exe"}}
	s := sampler.New(probe, nil, sampler.DefaultExclusions, zerolog.Nop())
	tracker, store, clock := newTestTracker(t, s, morning())

	var statuses []Status
	tracker.OnTick(func(st Status) { statuses = append(statuses, st) })

	tickN(t, tracker, clock, 5, time.Second)

	if got := tracker.current.Apps; len(got) != 2 || got["Chrome"] != 3 || got["Code"] != 2 {
		t.Fatalf("expected Chrome=3 Code=2, got %v", got)
	}

	_, onDisk, err := store.Read(morning())
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if onDisk.Apps["Chrome"] != 3 || onDisk.Apps["Code"] != 2 {
		t.Fatalf("ledger on disk not updated: %v", onDisk.Apps)
	}

	if len(statuses) != 5 {
		t.Fatalf("expected 5 tick notifications, got %d", len(statuses))
	}
	last := statuses[4]
	if last.Session == nil || last.Session.App != "Code" || last.Session.AccumulatedSeconds != 2 {
		t.Fatalf("unexpected final session: %+v", last.Session)
	}
}

func TestTrackerNeverRecordsExcludedApps(t *testing.T) {
	probe := &namedProbe{names: []string{"chrome.exe", "explorer.exe", "explorer.exe", "chrome.exe"}}
	s := sampler.New(probe, nil, sampler.DefaultExclusions, zerolog.Nop())
	tracker, _, clock := newTestTracker(t, s, morning())

	tickN(t, tracker, clock, 4, time.Second)

	if _, ok := tracker.current.Apps["Explorer"]; ok {
		t.Fatalf("excluded app recorded: %v", tracker.current.Apps)
	}
	// The excluded stretch is not handed to the next app either.
	if tracker.current.Apps["Chrome"] != 2 {
		t.Fatalf("expected Chrome=2, got %v", tracker.current.Apps)
	}
}

func TestTrackerSkipsTransientFailures(t *testing.T) {
	s := &scriptedSampler{results: []sampler.Result{
		{Kind: sampler.KindApp, App: "Code"},
		{Kind: sampler.KindTransient, Reason: "probe", Err: sampler.ErrTransient},
		{Kind: sampler.KindApp, App: "Code"},
	}}
	tracker, _, clock := newTestTracker(t, s, morning())

	tickN(t, tracker, clock, 3, time.Second)

	if tracker.current.Apps["Code"] != 2 {
		t.Fatalf("expected Code=2, got %v", tracker.current.Apps)
	}
}

func TestTrackerCarriesSubSecondRemainder(t *testing.T) {
	s := &scriptedSampler{results: []sampler.Result{{Kind: sampler.KindApp, App: "Code"}}}
	tracker, _, clock := newTestTracker(t, s, morning())

	tickN(t, tracker, clock, 10, 700*time.Millisecond)

	if tracker.current.Apps["Code"] != 7 {
		t.Fatalf("expected Code=7, got %v", tracker.current.Apps)
	}
}

func TestTrackerDiscardsLongGaps(t *testing.T) {
	s := &scriptedSampler{results: []sampler.Result{{Kind: sampler.KindApp, App: "Code"}}}
	tracker, _, clock := newTestTracker(t, s, morning())

	tickN(t, tracker, clock, 1, time.Second)
	tickN(t, tracker, clock, 1, 2*time.Hour)
	tickN(t, tracker, clock, 1, time.Second)

	if tracker.current.Apps["Code"] != 2 {
		t.Fatalf("expected Code=2 after discarded gap, got %v", tracker.current.Apps)
	}
}

func TestTrackerMaxGapZeroAndNegative(t *testing.T) {
	s := &scriptedSampler{results: []sampler.Result{{Kind: sampler.KindApp, App: "Code"}}}
	store := ledger.NewStore(t.TempDir(), zerolog.Nop())

	if got := NewTracker(s, store, nil, Config{}, zerolog.Nop()).maxGap; got != DefaultMaxGap {
		t.Fatalf("zero max gap = %s, want %s", got, DefaultMaxGap)
	}

	clock := clockwork.NewFakeClockAt(morning())
	tracker := NewTracker(s, store, clock, Config{MaxGap: -1}, zerolog.Nop())
	if err := tracker.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}

	tickN(t, tracker, clock, 1, time.Second)
	tickN(t, tracker, clock, 1, time.Hour)

	if tracker.current.Apps["Code"] != 3601 {
		t.Fatalf("expected the hour kept with gap discarding off, got %v", tracker.current.Apps)
	}
}

func TestTrackerRollsOverAtMidnight(t *testing.T) {
	start := time.Date(2024, time.March, 9, 23, 59, 58, 0, time.Local)
	s := &scriptedSampler{results: []sampler.Result{{Kind: sampler.KindApp, App: "Code"}}}
	tracker, store, clock := newTestTracker(t, s, start)

	tickN(t, tracker, clock, 1, time.Second)
	tickN(t, tracker, clock, 1, 2*time.Second)

	select {
	case closed := <-tracker.Rollovers():
		if closed.Day != 9 || closed.Apps["Code"] != 1 {
			t.Fatalf("unexpected closed day: %+v", closed)
		}
	default:
		t.Fatal("expected a rollover event")
	}

	if tracker.current.Day != 10 || tracker.current.Apps["Code"] != 2 {
		t.Fatalf("expected new day with Code=2, got %+v", tracker.current)
	}

	_, previous, err := store.Read(start)
	if err != nil {
		t.Fatalf("read previous day: %v", err)
	}
	if previous.Apps["Code"] != 1 {
		t.Fatalf("previous day not saved: %v", previous.Apps)
	}
}

func TestTrackerFatalStops(t *testing.T) {
	fatal := errors.New("display gone")
	s := &scriptedSampler{results: []sampler.Result{{Kind: sampler.KindFatal, Err: fatal}}}
	tracker, _, clock := newTestTracker(t, s, morning())

	clock.Advance(time.Second)
	if err := tracker.tick(context.Background()); !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestTrackerRunSnapshotAndShutdown(t *testing.T) {
	clock := clockwork.NewFakeClockAt(morning())
	store := ledger.NewStore(t.TempDir(), zerolog.Nop())
	s := &scriptedSampler{results: []sampler.Result{{Kind: sampler.KindApp, App: "Code"}}}
	tracker := NewTracker(s, store, clock, Config{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tracker.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("tracker did not start: %v", err)
	}

	snap, err := tracker.Snapshot(waitCtx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.DateString() != "2024-03-09" {
		t.Fatalf("unexpected snapshot date %s", snap.DateString())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-waitCtx.Done():
		t.Fatal("tracker did not stop")
	}

	final, err := tracker.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot after stop: %v", err)
	}
	if final.DateString() != "2024-03-09" {
		t.Fatalf("unexpected final snapshot: %+v", final)
	}
}
