// Package watcher polls a clipboard Accessor and emits a history item every
// time the clipboard holds something new.
//
// The watcher is stopped until Start is called. Each poll compares what it
// read with the last content it observed and only emits on a structural
// change, so re-reading the same text every interval produces one item.
// Emitted items go onto a bounded channel; when the channel is full the loop
// blocks rather than drop anything it has already detected.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/model"
)

const (
	DefaultInterval = 500 * time.Millisecond
	DefaultCapacity = 100
)

// Options configures a Watcher. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	Capacity int
	// Now stamps new items; defaults to time.Now.
	Now func() time.Time
}

// run is one generation of the poll loop.
type run struct {
	stop chan struct{} // closed by Stop
	done chan struct{} // closed when the loop returns
}

func (r *run) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// Watcher owns the poll loop. It is safe for concurrent use.
type Watcher struct {
	acc      clip.Accessor
	interval time.Duration
	now      func() time.Time
	events   chan model.Item

	mu      sync.Mutex
	running bool
	cur     *run
	last    model.Content
	wg      sync.WaitGroup

	// clipMu pairs each clipboard read with its comparison against last, and
	// each WriteThrough with its update of last.
	clipMu sync.Mutex
}

// New returns a stopped Watcher reading from acc.
func New(acc clip.Accessor, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Watcher{
		acc:      acc,
		interval: opts.Interval,
		now:      opts.Now,
		events:   make(chan model.Item, opts.Capacity),
	}
}

// Events is the channel new items are delivered on. It is never closed.
func (w *Watcher) Events() <-chan model.Item { return w.events }

// Running reports whether the watcher is in the running state.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start transitions to running and spawns the poll loop. Calling Start while
// already running does nothing. ctx belongs to the consumer of Events: once
// it is cancelled the loop exits, abandoning any send in progress.
//
// If a loop from an earlier Start is still finishing its last iteration, the
// new loop waits for it before its first poll.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	prev := w.cur
	r := &run{stop: make(chan struct{}), done: make(chan struct{})}
	w.cur = r
	w.running = true
	w.wg.Add(1)
	go w.loop(ctx, r, prev)
	slog.Info("clipboard watcher started", "backend", w.acc.Name(), "interval", w.interval)
}

// Stop transitions to stopped. The loop finishes the iteration it is in,
// including a clipboard read that is already under way, and then exits.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.cur.stop)
}

// Wait blocks until every loop started so far has exited.
func (w *Watcher) Wait() { w.wg.Wait() }

// Observe records c as the last observed content without emitting an item.
func (w *Watcher) Observe(c model.Content) {
	w.mu.Lock()
	w.last = model.Clone(c)
	w.mu.Unlock()
}

// WriteThrough writes c to the clipboard and records it as observed, with no
// poll in between, so the write is never captured back as a new item. On a
// failed write the last observed content is left alone.
func (w *Watcher) WriteThrough(c model.Content) error {
	w.clipMu.Lock()
	defer w.clipMu.Unlock()
	if err := w.acc.Write(c); err != nil {
		return err
	}
	w.Observe(c)
	return nil
}

func (w *Watcher) loop(ctx context.Context, r *run, prev *run) {
	defer w.wg.Done()
	defer close(r.done)

	if prev != nil {
		select {
		case <-prev.done:
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		if r.stopped() {
			slog.Info("clipboard watcher stopped")
			return
		}
		if !w.poll(ctx) {
			slog.Debug("clipboard watcher consumer gone, exiting")
			return
		}
		select {
		case <-t.C:
		case <-r.stop:
		case <-ctx.Done():
			return
		}
	}
}

// poll runs one iteration. It returns false when the consumer has gone away.
func (w *Watcher) poll(ctx context.Context) bool {
	content, changed := w.read()
	if !changed {
		return true
	}

	item := model.NewItem(content, w.now())
	slog.Debug("clipboard changed", "id", item.ID, "kind", content.Kind(), "size_bytes", item.Size())

	select {
	case w.events <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

// read reads the clipboard and reports whether it differs from the last
// observed content, recording it if so.
func (w *Watcher) read() (model.Content, bool) {
	w.clipMu.Lock()
	defer w.clipMu.Unlock()

	content, err := w.acc.Read()
	if err != nil {
		slog.Warn("clipboard read failed", "err", err)
		return nil, false
	}
	if content == nil {
		return nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last != nil && model.Equal(w.last, content) {
		return nil, false
	}
	w.last = content
	return content, true
}
