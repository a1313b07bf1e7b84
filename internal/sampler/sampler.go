// Package sampler reports which application owns the focused window.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	// ErrTransient marks probe failures worth retrying on the next tick:
	// the process exited, access was denied, it is a zombie, or no window
	// currently has focus.
	ErrTransient = errors.New("sampler: transient failure")

	// ErrUnsupported is returned when no probe exists for this platform.
	ErrUnsupported = errors.New("sampler: foreground window detection not supported on this platform")
)

// DefaultExclusions are apps that never accumulate time: shells, launchers,
// installers and the tracker itself.
var DefaultExclusions = []string{
	"Taskmgr", "Explorer", "Conemu64", "Searchui", "Shellexperiencehost",
	"Lightshot", "Steam", "Applicationframehost", "Steamwebhelper",
	"Googledrivesync", "Signalislandui", "Tracktime", "Minibin", "Cmd",
	"Lockapp", "Startmenuexperiencehost", "Pickerhost",
	"Zoom_cm_ds_mf8tdjxyt1zsyrvv0dv7wdsk1rgxnsbvbj-8@2mw5xrbllwznevm9_kda7fbb901aef1905",
	"Openwith", "Genericsetup", "Rundll32", "Firstrun", "Systemsettingsadminflows",
	"Msdt", "Codesetupstabledddecbaecdddfdtmp", "Easeofaccessdialog",
	"Codesetup-stable-622cb03f7e070a9670c94bae1a45d78d7181fbd4.tmp",
}

// Kind classifies a sample.
type Kind int

const (
	KindApp Kind = iota
	KindSkip
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindApp:
		return "app"
	case KindSkip:
		return "skip"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Result is the outcome of one sample.
type Result struct {
	Kind   Kind
	App    string
	Reason string
	Err    error
}

// RawProcess is the process owning the focused window, before normalization.
type RawProcess struct {
	PID  int32
	Name string
}

// Probe queries the OS for the foreground process.
type Probe interface {
	Foreground(ctx context.Context) (RawProcess, error)
	Close() error
}

// LockDetector reports whether the user's session is locked.
type LockDetector interface {
	Locked(ctx context.Context) (bool, error)
	Close() error
}

// Sampler turns probe output into app names and applies the exclusion set.
type Sampler struct {
	probe   Probe
	locks   LockDetector
	exclude map[string]struct{}
	logger  zerolog.Logger
}

// New creates a sampler. locks may be nil.
func New(probe Probe, locks LockDetector, exclude []string, logger zerolog.Logger) *Sampler {
	set := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		if n := Normalize(name); n != "" {
			set[n] = struct{}{}
		}
	}
	return &Sampler{
		probe:   probe,
		locks:   locks,
		exclude: set,
		logger:  logger.With().Str("component", "sampler").Logger(),
	}
}

// Excluded reports whether a normalized app name is in the exclusion set.
func (s *Sampler) Excluded(app string) bool {
	_, ok := s.exclude[app]
	return ok
}

// Sample takes one reading.
func (s *Sampler) Sample(ctx context.Context) Result {
	if s.locks != nil {
		locked, err := s.locks.Locked(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Lock state unavailable")
		} else if locked {
			return Result{Kind: KindSkip, Reason: "locked"}
		}
	}

	proc, err := s.probe.Foreground(ctx)
	if err != nil {
		if errors.Is(err, ErrTransient) {
			return Result{Kind: KindTransient, Reason: "probe", Err: err}
		}
		return Result{Kind: KindFatal, Reason: "probe", Err: err}
	}

	app := Normalize(proc.Name)
	if app == "" {
		return Result{Kind: KindTransient, Reason: "unnamed", Err: fmt.Errorf("%w: pid %d has no name", ErrTransient, proc.PID)}
	}
	if s.Excluded(app) {
		return Result{Kind: KindSkip, App: app, Reason: "excluded"}
	}
	return Result{Kind: KindApp, App: app}
}

// Close releases the probe and lock detector.
func (s *Sampler) Close() error {
	var errs []error
	if s.locks != nil {
		errs = append(errs, s.locks.Close())
	}
	errs = append(errs, s.probe.Close())
	return errors.Join(errs...)
}

// Normalize strips a trailing .exe (any case) and capitalizes the name:
// first letter upper case, the rest lower case.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 4 && strings.EqualFold(name[len(name)-4:], ".exe") {
		name = name[:len(name)-4]
	}
	if name == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + strings.ToLower(name[size:])
}

// resolveProcess looks up a pid's executable name.
func resolveProcess(ctx context.Context, pid int32) (RawProcess, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return RawProcess{}, classifyProcessError(pid, err)
	}

	if status, err := p.StatusWithContext(ctx); err == nil {
		for _, st := range status {
			if st == process.Zombie {
				return RawProcess{}, fmt.Errorf("%w: pid %d is a zombie", ErrTransient, pid)
			}
		}
	}

	name, err := p.NameWithContext(ctx)
	if err != nil {
		return RawProcess{}, classifyProcessError(pid, err)
	}
	return RawProcess{PID: pid, Name: name}, nil
}

func classifyProcessError(pid int32, err error) error {
	if errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: pid %d: %v", ErrTransient, pid, err)
	}
	return fmt.Errorf("resolve pid %d: %w", pid, err)
}
