package retry_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goodtune/tracktime/internal/retry"
	"github.com/jonboulle/clockwork"
)

var fastPolicy = retry.Policy{
	MaxAttempts:      3,
	InitialBackoff:   1 * time.Millisecond,
	RateLimitBackoff: 5 * time.Millisecond,
}

func alwaysRetry(error) retry.Action { return retry.Retry }
func alwaysStop(error) retry.Action  { return retry.Stop }

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if val != 42 || calls != 3 {
		t.Fatalf("expected 42 after 3 calls, got %d after %d", val, calls)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysStop, func() (int, error) {
		calls++
		return 0, permanent
	})
	var permErr *retry.PermanentError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected PermanentError, got %T: %v", err, err)
	}
	if !errors.Is(err, permanent) {
		t.Fatalf("expected wrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustedRetries(t *testing.T) {
	underlying := errors.New("transient")
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func() (int, error) {
		calls++
		return 0, underlying
	})
	if !errors.Is(err, underlying) {
		t.Fatalf("expected wrapped underlying error, got %v", err)
	}
	if calls != fastPolicy.MaxAttempts {
		t.Fatalf("expected %d calls, got %d", fastPolicy.MaxAttempts, calls)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, _ = retry.Do(context.Background(), retry.Policy{}, alwaysRetry, func() (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_BackoffDoublesAndRateLimit(t *testing.T) {
	var observed []time.Duration
	p := retry.Policy{
		MaxAttempts:      4,
		InitialBackoff:   1 * time.Millisecond,
		RateLimitBackoff: 5 * time.Millisecond,
		OnRetry: func(_ int, _ error, backoff time.Duration) {
			observed = append(observed, backoff)
		},
	}

	calls := 0
	classify := func(error) retry.Action {
		if calls == 2 {
			return retry.After
		}
		return retry.Retry
	}

	_, _ = retry.Do(context.Background(), p, classify, func() (int, error) {
		calls++
		return 0, errors.New("fail")
	})

	want := []time.Duration{1 * time.Millisecond, 5 * time.Millisecond, 10 * time.Millisecond}
	if len(observed) != len(want) {
		t.Fatalf("expected %d retries, got %v", len(want), observed)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("retry %d: expected backoff %v, got %v", i+1, want[i], observed[i])
		}
	}
}

func TestDo_ContextCancellationDuringWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := retry.Policy{MaxAttempts: 3, InitialBackoff: time.Hour, Clock: clock}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := retry.Do(ctx, p, alwaysRetry, func() (int, error) { return 0, errors.New("fail") })
		errCh <- err
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("retry never waited: %v", err)
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-waitCtx.Done():
		t.Fatal("retry did not observe cancellation")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want retry.Action
	}{
		{http.StatusBadRequest, retry.Stop},
		{http.StatusForbidden, retry.Stop},
		{http.StatusNotFound, retry.Stop},
		{http.StatusRequestTimeout, retry.Retry},
		{http.StatusTooManyRequests, retry.After},
		{http.StatusInternalServerError, retry.Retry},
		{http.StatusBadGateway, retry.Retry},
	}
	for _, tt := range tests {
		if got := retry.ClassifyStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
