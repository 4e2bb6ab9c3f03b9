//go:build !darwin && !windows

package shutdown

// New returns the platform's Signal implementation.
func New() Signal { return NewChannel() }
