package history_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/clipstash/internal/apperr"
	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/history"
	"go.klb.dev/clipstash/internal/hub"
	"go.klb.dev/clipstash/internal/model"
	"go.klb.dev/clipstash/internal/store"
	"go.klb.dev/clipstash/internal/testsupport"
	"go.klb.dev/clipstash/internal/watcher"
)

type fakeInjector struct {
	available bool
	fail      error
	mu        sync.Mutex
	injected  []model.Item
}

func (f *fakeInjector) Name() string                   { return "fake" }
func (f *fakeInjector) Available(context.Context) bool { return f.available }
func (f *fakeInjector) Inject(_ context.Context, it model.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.injected = append(f.injected, it)
	return nil
}

type collector struct {
	mu sync.Mutex
	ev []hub.Event
}

func (c *collector) ID() string         { return "collector" }
func (c *collector) Info() hub.PeerInfo { return hub.PeerInfo{ID: "collector"} }
func (c *collector) Send(ev hub.Event) {
	c.mu.Lock()
	c.ev = append(c.ev, ev)
	c.mu.Unlock()
}
func (c *collector) kinds() []hub.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]hub.EventKind, len(c.ev))
	for i, ev := range c.ev {
		out[i] = ev.Kind
	}
	return out
}

type fixture struct {
	m     *history.Manager
	store *store.Store
	mem   *clip.Memory
	w     *watcher.Watcher
	inj   *fakeInjector
	sub   *collector
	now   time.Time
}

func newFixture(t *testing.T, opts history.Options) *fixture {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		store: s,
		mem:   clip.NewMemory(),
		inj:   &fakeInjector{},
		sub:   &collector{},
		now:   testsupport.Base.Add(time.Hour),
	}
	f.w = watcher.New(f.mem, watcher.Options{Interval: 2 * time.Millisecond})
	h := hub.New()
	h.Register(f.sub, false)
	if opts.Now == nil {
		opts.Now = func() time.Time { return f.now }
	}
	f.m = history.New(s, f.mem, f.inj, f.w, h, opts)
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		f.w.Wait()
	})
	testsupport.Eventually(t, 2*time.Second, f.w.Running)
}

func texts(t *testing.T, m *history.Manager) []string {
	t.Helper()
	items, err := m.List(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return testsupport.Texts(items)
}

func TestRunStoresClipboardChanges(t *testing.T) {
	f := newFixture(t, history.Options{})
	f.run(t)

	f.mem.Set(model.Text("one"))
	testsupport.Eventually(t, 2*time.Second, func() bool { return len(texts(t, f.m)) == 1 })
	f.mem.Set(model.Text("two"))
	testsupport.Eventually(t, 2*time.Second, func() bool { return len(texts(t, f.m)) == 2 })

	if got := texts(t, f.m); !slices.Equal(got, []string{"two", "one"}) {
		t.Fatalf("history = %v", got)
	}
	if kinds := f.sub.kinds(); !slices.Equal(kinds, []hub.EventKind{hub.EventAdded, hub.EventAdded}) {
		t.Fatalf("events = %v", kinds)
	}
}

func TestPinClearScenario(t *testing.T) {
	f := newFixture(t, history.Options{})
	ctx := context.Background()
	a := testsupport.TextItem("A", 1*time.Second)
	b := testsupport.TextItem("B", 2*time.Second)
	c := testsupport.TextItem("C", 3*time.Second)
	for _, it := range []model.Item{a, b, c} {
		if err := f.m.Add(ctx, it); err != nil {
			t.Fatal(err)
		}
	}

	pinned, err := f.m.TogglePin(ctx, b.ID)
	if err != nil || !pinned.Pinned {
		t.Fatalf("TogglePin = %+v, %v", pinned, err)
	}
	if got := texts(t, f.m); !slices.Equal(got, []string{"C", "B", "A"}) {
		t.Fatalf("after pin = %v", got)
	}

	n, err := f.m.Clear(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
	if got := texts(t, f.m); !slices.Equal(got, []string{"B"}) {
		t.Fatalf("after clear = %v", got)
	}

	unpinned, err := f.m.TogglePin(ctx, b.ID)
	if err != nil || unpinned.Pinned {
		t.Fatalf("second TogglePin = %+v, %v", unpinned, err)
	}
}

func TestSetPinnedIsIdempotent(t *testing.T) {
	f := newFixture(t, history.Options{})
	ctx := context.Background()
	a := testsupport.TextItem("a", 0)
	if err := f.m.Add(ctx, a); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		it, err := f.m.SetPinned(ctx, a.ID, true)
		if err != nil || !it.Pinned {
			t.Fatalf("SetPinned = %+v, %v", it, err)
		}
	}
	want := []hub.EventKind{hub.EventAdded, hub.EventUpdated}
	if got := f.sub.kinds(); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestUnknownIDs(t *testing.T) {
	f := newFixture(t, history.Options{})
	ctx := context.Background()
	id := uuid.New()

	if _, err := f.m.Get(ctx, id); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("Get = %v", err)
	}
	if _, err := f.m.TogglePin(ctx, id); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("TogglePin = %v", err)
	}
	if err := f.m.Remove(ctx, id); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("Remove = %v", err)
	}
	if _, _, err := f.m.Select(ctx, id, false); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("Select = %v", err)
	}
}

func TestRemove(t *testing.T) {
	f := newFixture(t, history.Options{})
	ctx := context.Background()
	a := testsupport.TextItem("a", 0)
	if err := f.m.Add(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := f.m.Remove(ctx, a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := texts(t, f.m); len(got) != 0 {
		t.Fatalf("history = %v", got)
	}
}

func TestListSearchAndLimit(t *testing.T) {
	f := newFixture(t, history.Options{})
	ctx := context.Background()
	for i, s := range []string{"Hello World", "goodbye", "HELLO again", "other"} {
		if err := f.m.Add(ctx, testsupport.TextItem(s, time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.m.Add(ctx, testsupport.ImageItem(1, 10*time.Second)); err != nil {
		t.Fatal(err)
	}

	items, err := f.m.List(ctx, "hello", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := testsupport.Texts(items); !slices.Equal(got, []string{"HELLO again", "Hello World"}) {
		t.Fatalf("search = %v", got)
	}

	items, err = f.m.List(ctx, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Content.Kind() != model.KindImage {
		t.Fatalf("limit = %v", testsupport.Texts(items))
	}
}

func TestResolvePrefix(t *testing.T) {
	f := newFixture(t, history.Options{})
	ctx := context.Background()
	a := testsupport.TextItem("a", 0)
	a.ID = uuid.MustParse("aaaaaaaa-0000-4000-8000-000000000001")
	b := testsupport.TextItem("b", time.Second)
	b.ID = uuid.MustParse("aaaabbbb-0000-4000-8000-000000000002")
	for _, it := range []model.Item{a, b} {
		if err := f.m.Add(ctx, it); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		ref     string
		want    uuid.UUID
		wantErr error
	}{
		{ref: a.ID.String(), want: a.ID},
		{ref: "AAAAB", want: b.ID},
		{ref: "aaaaaaaa-0", want: a.ID},
		{ref: "aaaa", wantErr: history.ErrAmbiguous},
		{ref: "ffff", wantErr: history.ErrNotFound},
		{ref: "  ", wantErr: history.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.ref, func(t *testing.T) {
			it, err := f.m.Resolve(ctx, tc.ref)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Resolve = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil || it.ID != tc.want {
				t.Fatalf("Resolve = %s, %v", it.ID, err)
			}
		})
	}
}

func TestRetentionByCount(t *testing.T) {
	f := newFixture(t, history.Options{MaxItems: 2})
	ctx := context.Background()
	pin := testsupport.TextItem("pinned", 0)
	pin.Pinned = true
	if err := f.m.Add(ctx, pin); err != nil {
		t.Fatal(err)
	}
	for i, s := range []string{"a", "b", "c"} {
		if err := f.m.Add(ctx, testsupport.TextItem(s, time.Duration(i+1)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	if got := texts(t, f.m); !slices.Equal(got, []string{"c", "b", "pinned"}) {
		t.Fatalf("history = %v", got)
	}
	kinds := f.sub.kinds()
	if kinds[len(kinds)-1] != hub.EventRemoved {
		t.Fatalf("eviction not published: %v", kinds)
	}
}

func TestRetentionByAge(t *testing.T) {
	f := newFixture(t, history.Options{MaxAge: 30 * time.Minute})
	ctx := context.Background()
	old := testsupport.TextItem("old", 0)
	oldPinned := testsupport.TextItem("old pinned", time.Second)
	oldPinned.Pinned = true
	fresh := testsupport.TextItem("fresh", 50*time.Minute)

	for _, it := range []model.Item{old, oldPinned, fresh} {
		if err := f.m.Add(ctx, it); err != nil {
			t.Fatal(err)
		}
	}
	if got := texts(t, f.m); !slices.Equal(got, []string{"fresh", "old pinned"}) {
		t.Fatalf("history = %v", got)
	}

	f.now = f.now.Add(time.Hour)
	evicted, err := f.m.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 1 || !evicted[0].Equal(fresh) {
		t.Fatalf("evicted = %v", testsupport.Texts(evicted))
	}
}

func TestCaptureValidates(t *testing.T) {
	f := newFixture(t, history.Options{})
	ctx := context.Background()

	if _, err := f.m.Capture(ctx, nil); !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("Capture(nil) = %v", err)
	}
	bad := model.Image{Meta: model.ImageMeta{Width: 2, Height: 2, BytesPerPixel: 4}, Pixels: []byte{1}}
	if _, err := f.m.Capture(ctx, bad); !errors.Is(err, apperr.ErrSerialization) {
		t.Fatalf("Capture(bad image) = %v", err)
	}

	it, err := f.m.Capture(ctx, model.Text("typed"))
	if err != nil {
		t.Fatal(err)
	}
	if !it.Timestamp.Equal(f.now) || it.Pinned {
		t.Fatalf("captured = %+v", it)
	}
	got, err := f.m.Get(ctx, it.ID)
	if err != nil || !got.Equal(it) {
		t.Fatalf("Get = %+v, %v", got, err)
	}
}

func TestSelectWritesClipboardWithoutRecapture(t *testing.T) {
	f := newFixture(t, history.Options{})
	f.run(t)
	ctx := context.Background()

	f.mem.Set(model.Text("first"))
	testsupport.Eventually(t, 2*time.Second, func() bool { return len(texts(t, f.m)) == 1 })
	old := testsupport.TextItem("older", -time.Hour)
	if err := f.m.Add(ctx, old); err != nil {
		t.Fatal(err)
	}

	it, injected, err := f.m.Select(ctx, old.ID, false)
	if err != nil || injected || !it.Equal(old) {
		t.Fatalf("Select = %+v, %v, %v", it, injected, err)
	}
	c, _ := f.mem.Read()
	if !model.Equal(c, model.Text("older")) {
		t.Fatalf("clipboard = %v", c)
	}

	reads := f.mem.Reads()
	testsupport.Eventually(t, 2*time.Second, func() bool { return f.mem.Reads() > reads+3 })
	if got := texts(t, f.m); len(got) != 2 {
		t.Fatalf("selected item was captured again: %v", got)
	}
}

func TestSelectInjection(t *testing.T) {
	ctx := context.Background()

	t.Run("available", func(t *testing.T) {
		f := newFixture(t, history.Options{})
		f.inj.available = true
		a := testsupport.TextItem("a", 0)
		if err := f.m.Add(ctx, a); err != nil {
			t.Fatal(err)
		}
		_, injected, err := f.m.Select(ctx, a.ID, true)
		if err != nil || !injected || len(f.inj.injected) != 1 {
			t.Fatalf("Select = %v, %v (injected %d)", injected, err, len(f.inj.injected))
		}
	})

	t.Run("unavailable falls back", func(t *testing.T) {
		f := newFixture(t, history.Options{})
		a := testsupport.TextItem("a", 0)
		if err := f.m.Add(ctx, a); err != nil {
			t.Fatal(err)
		}
		_, injected, err := f.m.Select(ctx, a.ID, true)
		if err != nil || injected {
			t.Fatalf("Select = %v, %v", injected, err)
		}
		if c, _ := f.mem.Read(); !model.Equal(c, model.Text("a")) {
			t.Fatal("clipboard not set")
		}
	})

	t.Run("failure falls back", func(t *testing.T) {
		f := newFixture(t, history.Options{})
		f.inj.available = true
		f.inj.fail = errors.New("no display")
		a := testsupport.TextItem("a", 0)
		if err := f.m.Add(ctx, a); err != nil {
			t.Fatal(err)
		}
		_, injected, err := f.m.Select(ctx, a.ID, true)
		if err != nil || injected {
			t.Fatalf("Select = %v, %v", injected, err)
		}
	})
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, history.Options{})
	if err := f.m.SetWatching(true); !errors.Is(err, history.ErrNotRunning) {
		t.Fatalf("resume before Run = %v", err)
	}

	f.run(t)
	if err := f.m.SetWatching(false); err != nil {
		t.Fatal(err)
	}
	f.w.Wait()
	if f.m.Watching() {
		t.Fatal("still watching after pause")
	}
	f.mem.Set(model.Text("while paused"))
	time.Sleep(20 * time.Millisecond)
	if got := texts(t, f.m); len(got) != 0 {
		t.Fatalf("captured while paused: %v", got)
	}

	if err := f.m.SetWatching(true); err != nil {
		t.Fatal(err)
	}
	testsupport.Eventually(t, 2*time.Second, func() bool { return len(texts(t, f.m)) == 1 })

	st, err := f.m.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 || !st.Watching || st.Injector != "fake" || st.Subscribers != 1 {
		t.Fatalf("Status = %+v", st)
	}
}

// slowClipboard is a Memory whose writes take several poll intervals.
type slowClipboard struct {
	*clip.Memory
	delay time.Duration
}

func (s slowClipboard) Write(c model.Content) error {
	time.Sleep(s.delay)
	return s.Memory.Write(c)
}

// runManager runs m until the test ends.
func runManager(t *testing.T, m *history.Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	testsupport.Eventually(t, 2*time.Second, m.Watching)
}

func TestSelectDuringSlowWriteKeepsHistoryClean(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	mem := clip.NewMemory()
	acc := slowClipboard{Memory: mem, delay: 10 * time.Millisecond}
	w := watcher.New(acc, watcher.Options{Interval: time.Millisecond})
	m := history.New(s, acc, nil, w, hub.New(), history.Options{})
	runManager(t, m)

	mem.Set(model.Text("first"))
	testsupport.Eventually(t, 2*time.Second, func() bool { return len(texts(t, m)) == 1 })
	old := testsupport.TextItem("older", -time.Hour)
	if err := m.Add(ctx, old); err != nil {
		t.Fatal(err)
	}

	if _, _, err := m.Select(ctx, old.ID, false); err != nil {
		t.Fatalf("Select: %v", err)
	}
	reads := mem.Reads()
	testsupport.Eventually(t, 2*time.Second, func() bool { return mem.Reads() > reads+5 })
	if got := texts(t, m); !slices.Equal(got, []string{"first", "older"}) {
		t.Fatalf("history = %v", got)
	}
}

// sequence returns its contents one per Read, then keeps returning the last.
type sequence struct {
	mu    sync.Mutex
	items []model.Content
	pos   int
}

func (s *sequence) Name() string { return "sequence" }
func (s *sequence) Read() (model.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.items[s.pos]
	if s.pos < len(s.items)-1 {
		s.pos++
	}
	return c, nil
}
func (s *sequence) Write(model.Content) error { return nil }
func (s *sequence) exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos == len(s.items)-1
}

// slowStore delays every Add, so changes queue up behind the consumer.
type slowStore struct {
	*store.Store
	delay time.Duration
}

func (s slowStore) Add(ctx context.Context, it model.Item) error {
	time.Sleep(s.delay)
	return s.Store.Add(ctx, it)
}

func TestShutdownStoresDetectedChanges(t *testing.T) {
	s, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	seq := &sequence{items: []model.Content{
		model.Text("a"), model.Text("b"), model.Text("c"), model.Text("d"), model.Text("e"),
	}}
	w := watcher.New(seq, watcher.Options{Interval: time.Millisecond})
	m := history.New(slowStore{Store: s, delay: 30 * time.Millisecond}, seq, nil, w, hub.New(), history.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	testsupport.Eventually(t, 2*time.Second, seq.exhausted)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if m.Watching() {
		t.Fatal("watcher still running after Run returned")
	}

	items, err := s.GetAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := testsupport.Texts(items)
	slices.Sort(got)
	if !slices.Equal(got, []string{"a", "b", "c", "d", "e"}) {
		t.Fatalf("stored %v after shutdown, want all five changes", got)
	}
}
