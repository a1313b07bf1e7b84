//go:build !linux && !windows

package sampler

// NewProbe reports that this platform has no foreground window probe.
func NewProbe() (Probe, error) {
	return nil, ErrUnsupported
}
