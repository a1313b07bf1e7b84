//go:build windows

package sampler

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows"
)

// win32Probe asks user32 for the foreground window and its owning pid.
type win32Probe struct{}

// NewProbe returns the Win32 foreground window probe.
func NewProbe() (Probe, error) {
	return win32Probe{}, nil
}

func (win32Probe) Foreground(ctx context.Context) (RawProcess, error) {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return RawProcess{}, fmt.Errorf("%w: no foreground window", ErrTransient)
	}

	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil || pid == 0 {
		return RawProcess{}, fmt.Errorf("%w: window owner unavailable: %v", ErrTransient, err)
	}

	return resolveProcess(ctx, int32(pid))
}

func (win32Probe) Close() error { return nil }
