package sampler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

type fakeProbe struct {
	proc RawProcess
	err  error
}

func (f *fakeProbe) Foreground(ctx context.Context) (RawProcess, error) {
	return f.proc, f.err
}

func (f *fakeProbe) Close() error { return nil }

type fakeLocks struct {
	locked bool
	err    error
}

func (f *fakeLocks) Locked(ctx context.Context) (bool, error) { return f.locked, f.err }
func (f *fakeLocks) Close() error                            { return nil }

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"chrome.exe", "Chrome"},
		{"Code.EXE", "Code"},
		{"firefox", "Firefox"},
		{"WINWORD.exe", "Winword"},
		{"  explorer.exe ", "Explorer"},
		{".exe", ""},
		{"", ""},
		{"éditeur", "Éditeur"},
		{"my.exe.tool", "My.exe.tool"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSampleApp(t *testing.T) {
	s := New(&fakeProbe{proc: RawProcess{PID: 10, Name: "chrome.exe"}}, nil, DefaultExclusions, zerolog.Nop())

	res := s.Sample(context.Background())
	if res.Kind != KindApp || res.App != "Chrome" {
		t.Fatalf("expected Chrome app sample, got %+v", res)
	}
}

func TestSampleExcluded(t *testing.T) {
	tests := []string{"explorer.exe", "Taskmgr.exe", "cmd.exe", "FirstRun.exe"}

	for _, name := range tests {
		s := New(&fakeProbe{proc: RawProcess{PID: 1, Name: name}}, nil, DefaultExclusions, zerolog.Nop())
		res := s.Sample(context.Background())
		if res.Kind != KindSkip || res.Reason != "excluded" {
			t.Errorf("expected %s to be excluded, got %+v", name, res)
		}
	}
}

func TestSampleClassifiesErrors(t *testing.T) {
	transient := fmt.Errorf("%w: pid 4 exited", ErrTransient)
	fatal := errors.New("display connection lost")

	s := New(&fakeProbe{err: transient}, nil, nil, zerolog.Nop())
	if res := s.Sample(context.Background()); res.Kind != KindTransient {
		t.Fatalf("expected transient, got %+v", res)
	}

	s = New(&fakeProbe{err: fatal}, nil, nil, zerolog.Nop())
	res := s.Sample(context.Background())
	if res.Kind != KindFatal || !errors.Is(res.Err, fatal) {
		t.Fatalf("expected fatal wrapping cause, got %+v", res)
	}
}

func TestSampleLockedSession(t *testing.T) {
	probe := &fakeProbe{proc: RawProcess{PID: 10, Name: "code"}}

	s := New(probe, &fakeLocks{locked: true}, nil, zerolog.Nop())
	if res := s.Sample(context.Background()); res.Kind != KindSkip || res.Reason != "locked" {
		t.Fatalf("expected locked skip, got %+v", res)
	}

	// Lock lookup failures fall through to the probe.
	s = New(probe, &fakeLocks{err: errors.New("bus gone")}, nil, zerolog.Nop())
	if res := s.Sample(context.Background()); res.Kind != KindApp || res.App != "Code" {
		t.Fatalf("expected Code sample, got %+v", res)
	}
}

func TestClassifyProcessError(t *testing.T) {
	if err := classifyProcessError(5, errors.New("boom")); errors.Is(err, ErrTransient) {
		t.Fatalf("unknown errors must not be transient")
	}
}
