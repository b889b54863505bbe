// Package history coordinates the clipboard watcher, the store and the
// subscribers. It is the single consumer of the watcher's event channel and
// the only writer to the store while the daemon runs.
//
// Every mutation is followed by a store flush and then published to the hub,
// so a subscriber never sees an event for a change that could still be lost.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/clipstash/internal/apperr"
	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/model"
	"go.klb.dev/clipstash/internal/paste"
	"go.klb.dev/clipstash/internal/store"
)

var (
	// ErrNotFound means no item matched the given id or prefix.
	ErrNotFound = errors.New("no such history item")
	// ErrAmbiguous means an id prefix matched more than one item.
	ErrAmbiguous = errors.New("id prefix matches more than one item")
	// ErrNotRunning means the watcher cannot be resumed outside Run.
	ErrNotRunning = errors.New("history manager is not running")
)

// Store is the persistence the manager needs. *store.Store implements it.
type Store interface {
	GetAll(ctx context.Context) ([]model.Item, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Item, error)
	Add(ctx context.Context, it model.Item) error
	Update(ctx context.Context, it model.Item) error
	Remove(ctx context.Context, id uuid.UUID) error
	ClearNonPinned(ctx context.Context) (int, error)
	Evict(ctx context.Context, before time.Time, keep int) ([]model.Item, error)
	Flush(ctx context.Context) error
	Stats(ctx context.Context) (store.Stats, error)
}

// Watcher is the clipboard change source. *watcher.Watcher implements it.
type Watcher interface {
	Events() <-chan model.Item
	Start(ctx context.Context)
	Stop()
	Running() bool
	Wait()
	WriteThrough(c model.Content) error
}

// drainTimeout bounds how long shutdown spends storing changes the watcher
// had already detected.
const drainTimeout = 10 * time.Second

// Options bounds the history. Zero disables a bound.
type Options struct {
	MaxItems int
	MaxAge   time.Duration
	// Now is the clock for age-based retention; defaults to time.Now.
	Now func() time.Time
}

// Manager owns the history.
type Manager struct {
	store    Store
	acc      clip.Accessor
	injector paste.Injector
	watcher  Watcher
	hub      *hub.Hub
	opts     Options

	// mu serializes mutations so read-modify-write sequences (pin toggles,
	// retention sweeps) see a consistent store.
	mu     sync.Mutex
	runCtx context.Context
}

// New wires a Manager. injector may be nil, which disables injection.
func New(s Store, acc clip.Accessor, injector paste.Injector, w Watcher, h *hub.Hub, opts Options) *Manager {
	if injector == nil {
		injector = paste.None{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{store: s, acc: acc, injector: injector, watcher: w, hub: h, opts: opts}
}

// Run sweeps once, starts the watcher and stores every item it emits until
// ctx is cancelled. Storage failures are logged and do not end the loop.
//
// On cancellation the watcher is stopped and every change it had already
// detected is still stored before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	// The watcher outlives ctx until the drain is done, so a change it is
	// handing over at cancellation is not abandoned.
	wctx, wcancel := context.WithCancel(context.WithoutCancel(ctx))
	defer wcancel()

	m.mu.Lock()
	m.runCtx = wctx
	m.mu.Unlock()

	if _, err := m.Sweep(ctx); err != nil {
		slog.Error("startup retention sweep failed", "err", err)
	}

	m.watcher.Start(wctx)

	events := m.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			m.drain(ctx)
			return nil
		case it := <-events:
			if ctx.Err() != nil {
				m.drain(ctx, it)
				return nil
			}
			if err := m.Add(ctx, it); err != nil {
				if ctx.Err() != nil {
					m.drain(ctx, it)
					return nil
				}
				slog.Error("failed to store clipboard item", "id", it.ID, "err", err)
			}
		}
	}
}

// drain stops the watcher and stores pending plus everything still queued,
// using a context detached from the cancelled ctx.
func (m *Manager) drain(ctx context.Context, pending ...model.Item) {
	m.mu.Lock()
	m.runCtx = nil
	m.mu.Unlock()
	m.watcher.Stop()

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		m.watcher.Wait()
		close(stopped)
	}()

	stored := 0
	keep := func(it model.Item) {
		if err := m.Add(dctx, it); err != nil {
			slog.Error("failed to store clipboard item during shutdown", "id", it.ID, "err", err)
			return
		}
		stored++
	}
	for _, it := range pending {
		keep(it)
	}

	events := m.watcher.Events()
	for {
		select {
		case it := <-events:
			keep(it)
		case <-dctx.Done():
			slog.Warn("gave up waiting for the clipboard watcher", "stored", stored)
			return
		case <-stopped:
			for {
				select {
				case it := <-events:
					keep(it)
				default:
					if stored > 0 {
						slog.Info("stored pending clipboard changes at shutdown", "count", stored)
					}
					return
				}
			}
		}
	}
}

// Add stores it, applies retention, flushes and publishes.
func (m *Manager) Add(ctx context.Context, it model.Item) error {
	m.mu.Lock()
	if err := m.store.Add(ctx, it); err != nil {
		m.mu.Unlock()
		return err
	}
	evicted, err := m.sweepLocked(ctx)
	if err == nil {
		err = m.store.Flush(ctx)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.publish(hub.EventAdded, &it)
	for i := range evicted {
		m.publish(hub.EventRemoved, &evicted[i])
	}
	return nil
}

// Capture adds content supplied by the user rather than the watcher.
func (m *Manager) Capture(ctx context.Context, c model.Content) (model.Item, error) {
	switch v := c.(type) {
	case nil:
		return model.Item{}, apperr.Errorf(apperr.KindConfig, "capture", "no content")
	case model.Image:
		if !v.Valid() {
			return model.Item{}, apperr.Errorf(apperr.KindSerialization, "capture",
				"image %dx%d with %d bytes per pixel has %d bytes",
				v.Meta.Width, v.Meta.Height, v.Meta.BytesPerPixel, len(v.Pixels))
		}
	}
	it := model.NewItem(model.Clone(c), m.opts.Now())
	if err := m.Add(ctx, it); err != nil {
		return model.Item{}, err
	}
	return it, nil
}

// List returns items matching query, most recent first. limit <= 0 means all.
func (m *Manager) List(ctx context.Context, query string, limit int) ([]model.Item, error) {
	all, err := m.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, it := range all {
		if !it.Matches(query) {
			continue
		}
		out = append(out, it)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Get returns the item with id.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (model.Item, error) {
	it, err := m.store.Get(ctx, id)
	if err != nil {
		return model.Item{}, err
	}
	if it == nil {
		return model.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *it, nil
}

// Resolve finds the item whose id is ref or starts with ref. Hyphens and
// case are ignored so a prefix copied from `clipstash list` works.
func (m *Manager) Resolve(ctx context.Context, ref string) (model.Item, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if id, err := uuid.Parse(ref); err == nil {
		return m.Get(ctx, id)
	}
	want := strings.ReplaceAll(ref, "-", "")
	if want == "" {
		return model.Item{}, fmt.Errorf("%w: empty id", ErrNotFound)
	}

	all, err := m.store.GetAll(ctx)
	if err != nil {
		return model.Item{}, err
	}
	var found []model.Item
	for _, it := range all {
		if strings.HasPrefix(strings.ReplaceAll(it.ID.String(), "-", ""), want) {
			found = append(found, it)
		}
	}
	switch len(found) {
	case 0:
		return model.Item{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return found[0], nil
	default:
		return model.Item{}, fmt.Errorf("%w: %s (%d matches)", ErrAmbiguous, ref, len(found))
	}
}

// TogglePin flips the pinned flag of id and returns the updated item.
func (m *Manager) TogglePin(ctx context.Context, id uuid.UUID) (model.Item, error) {
	return m.updatePin(ctx, id, func(cur bool) bool { return !cur })
}

// SetPinned sets the pinned flag of id and returns the updated item.
func (m *Manager) SetPinned(ctx context.Context, id uuid.UUID, pinned bool) (model.Item, error) {
	return m.updatePin(ctx, id, func(bool) bool { return pinned })
}

func (m *Manager) updatePin(ctx context.Context, id uuid.UUID, next func(bool) bool) (model.Item, error) {
	m.mu.Lock()
	it, err := m.store.Get(ctx, id)
	if err == nil && it == nil {
		err = fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		m.mu.Unlock()
		return model.Item{}, err
	}
	updated := *it
	updated.Pinned = next(it.Pinned)
	if updated.Pinned != it.Pinned {
		err = m.store.Update(ctx, updated)
		if err == nil {
			err = m.store.Flush(ctx)
		}
	}
	m.mu.Unlock()
	if err != nil {
		return model.Item{}, err
	}

	if updated.Pinned != it.Pinned {
		m.publish(hub.EventUpdated, &updated)
	}
	return updated, nil
}

// Remove deletes id from the history.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	it, err := m.store.Get(ctx, id)
	if err == nil && it == nil {
		err = fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err == nil {
		err = m.store.Remove(ctx, id)
	}
	if err == nil {
		err = m.store.Flush(ctx)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.publish(hub.EventRemoved, it)
	return nil
}

// Clear removes every unpinned item and reports how many were removed.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	m.mu.Lock()
	n, err := m.store.ClearNonPinned(ctx)
	if err == nil {
		err = m.store.Flush(ctx)
	}
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	m.hub.Publish(hub.Event{Kind: hub.EventCleared, Removed: n})
	return n, nil
}

// Select puts item id back on the clipboard. With inject set it also types or
// pastes it into the focused window when an injector is available; otherwise
// the clipboard write alone stands. It reports whether injection happened.
func (m *Manager) Select(ctx context.Context, id uuid.UUID, inject bool) (model.Item, bool, error) {
	it, err := m.Get(ctx, id)
	if err != nil {
		return model.Item{}, false, err
	}

	if err := m.watcher.WriteThrough(it.Content); err != nil {
		return it, false, apperr.New(apperr.KindClipboard, "select write", err)
	}

	if !inject {
		return it, false, nil
	}
	if !m.injector.Available(ctx) {
		slog.Info("paste injector unavailable, item left on clipboard", "injector", m.injector.Name(), "id", it.ID)
		return it, false, nil
	}
	if err := m.injector.Inject(ctx, it); err != nil {
		slog.Warn("paste injection failed, item left on clipboard", "injector", m.injector.Name(), "id", it.ID, "err", err)
		return it, false, nil
	}
	return it, true, nil
}

// SetWatching pauses or resumes clipboard capture. Resuming requires Run to
// be active because the watcher delivers to Run's loop.
func (m *Manager) SetWatching(on bool) error {
	if !on {
		if m.watcher.Running() {
			m.watcher.Stop()
			m.hub.Publish(hub.Event{Kind: hub.EventPaused})
		}
		return nil
	}

	// Starting under mu keeps a resume from racing the shutdown drain.
	m.mu.Lock()
	ctx := m.runCtx
	if ctx == nil || ctx.Err() != nil {
		m.mu.Unlock()
		return ErrNotRunning
	}
	started := !m.watcher.Running()
	if started {
		m.watcher.Start(ctx)
	}
	m.mu.Unlock()
	if started {
		m.hub.Publish(hub.Event{Kind: hub.EventResumed})
	}
	return nil
}

// Watching reports whether capture is active.
func (m *Manager) Watching() bool { return m.watcher.Running() }

// Sweep applies the retention bounds and returns the evicted items.
func (m *Manager) Sweep(ctx context.Context) ([]model.Item, error) {
	m.mu.Lock()
	evicted, err := m.sweepLocked(ctx)
	if err == nil && len(evicted) > 0 {
		err = m.store.Flush(ctx)
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for i := range evicted {
		m.publish(hub.EventRemoved, &evicted[i])
	}
	return evicted, nil
}

// sweepLocked removes unpinned items older than MaxAge and unpinned items
// beyond the newest MaxItems. Pinned items are never evicted and do not count
// toward MaxItems.
func (m *Manager) sweepLocked(ctx context.Context) ([]model.Item, error) {
	if m.opts.MaxItems <= 0 && m.opts.MaxAge <= 0 {
		return nil, nil
	}
	var before time.Time
	if m.opts.MaxAge > 0 {
		before = m.opts.Now().Add(-m.opts.MaxAge)
	}
	evicted, err := m.store.Evict(ctx, before, max(m.opts.MaxItems, 0))
	if err != nil {
		return nil, err
	}
	if len(evicted) > 0 {
		slog.Info("retention sweep evicted items", "count", len(evicted))
	}
	return evicted, nil
}

// Status summarises the daemon.
type Status struct {
	Total       int
	Pinned      int
	Watching    bool
	Clipboard   string
	Injector    string
	DBPath      string
	Subscribers int
}

// Status reports counts and component state.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	st, err := m.store.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Total:       st.Total,
		Pinned:      st.Pinned,
		Watching:    m.watcher.Running(),
		Clipboard:   m.acc.Name(),
		Injector:    m.injector.Name(),
		DBPath:      st.Path,
		Subscribers: len(m.hub.Peers()),
	}, nil
}

// Hub exposes the event fan-out for streaming subscribers.
func (m *Manager) Hub() *hub.Hub { return m.hub }

func (m *Manager) publish(kind hub.EventKind, it *model.Item) {
	m.hub.Publish(hub.Event{Kind: kind, Item: it})
}
