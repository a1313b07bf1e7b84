//go:build !linux

package sampler

// NewLockDetector is only implemented for logind sessions.
func NewLockDetector() (LockDetector, error) {
	return nil, ErrUnsupported
}
