// Package clip provides a unified interface to the system clipboard across
// platforms. Build constraints select the appropriate implementation:
//
//	clip_native.go: macOS, Windows, Linux via golang.design/x/clipboard
//	clip_other.go:  everything else, an in-process Memory clipboard
//
// When the native clipboard cannot be initialised (a Linux box without X11
// or Wayland, a container) New falls back to Memory as well.
package clip

import "go.klb.dev/clipstash/internal/model"

// Accessor is the interface that all clipboard implementations satisfy.
// The OS clipboard is shared with every other process on the desktop, so an
// Accessor never assumes that what it wrote is still there on the next Read.
type Accessor interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard payload. It returns nil, nil when
	// the clipboard is empty or holds only unsupported types; an error is
	// reserved for genuine access failures.
	Read() (model.Content, error)

	// Write replaces the clipboard contents with c.
	Write(c model.Content) error
}
