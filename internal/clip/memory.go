package clip

import (
	"sync"

	"go.klb.dev/clipstash/internal/model"
)

// Memory is a clipboard that lives inside the process. It backs headless
// environments (CI, containers) where `clipstash copy` is the only source of
// content, and it doubles as a test double: Fail makes the next reads error.
type Memory struct {
	mu      sync.Mutex
	content model.Content
	reads   int
	fail    error
}

// NewMemory returns an empty Memory clipboard.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string { return "in-process clipboard" }

func (m *Memory) Read() (model.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.fail != nil {
		return nil, m.fail
	}
	return model.Clone(m.content), nil
}

func (m *Memory) Write(c model.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = model.Clone(c)
	return nil
}

// Set is Write without the error, for callers simulating another application.
func (m *Memory) Set(c model.Content) { _ = m.Write(c) }

// Clear empties the clipboard.
func (m *Memory) Clear() { m.Set(nil) }

// Fail makes every subsequent Read return err until Fail(nil) is called.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Reads reports how many times Read has been called.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
