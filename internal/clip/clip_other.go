//go:build !darwin && !windows && !linux

package clip

// New returns an in-process clipboard; there is no native backend for this
// platform.
func New() Accessor {
	return NewMemory()
}
