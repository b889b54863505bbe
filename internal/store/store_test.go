package store

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/clipstash/internal/apperr"
	"go.klb.dev/clipstash/internal/model"
	"go.klb.dev/clipstash/internal/testsupport"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func mustAdd(t *testing.T, s *Store, items ...model.Item) {
	t.Helper()
	for _, it := range items {
		if err := s.Add(context.Background(), it); err != nil {
			t.Fatalf("Add %s: %v", it.Preview(), err)
		}
	}
}

func mustAll(t *testing.T, s *Store) []model.Item {
	t.Helper()
	items, err := s.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	return items
}

func TestEmptyStore(t *testing.T) {
	s, _ := openTemp(t)
	if items := mustAll(t, s); len(items) != 0 {
		t.Fatalf("GetAll = %d items, want 0", len(items))
	}
	it, err := s.Get(context.Background(), uuid.New())
	if err != nil || it != nil {
		t.Fatalf("Get unknown = %v, %v; want nil, nil", it, err)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	a := testsupport.TextItem("a", 0)
	mustAdd(t, s, a)
	for range 3 {
		if err := s.Init(ctx); err != nil {
			t.Fatalf("Init: %v", err)
		}
	}
	if items := mustAll(t, s); len(items) != 1 || !items[0].Equal(a) {
		t.Fatalf("Init disturbed contents: %v", testsupport.Texts(items))
	}
}

func TestAddGetRoundTrip(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	text := testsupport.TextItem("héllo\nwörld", 0)
	text.Pinned = true
	image := testsupport.ImageItem(0x7f, time.Second)
	mustAdd(t, s, text, image)

	for _, want := range []model.Item{text, image} {
		got, err := s.Get(ctx, want.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got == nil || !got.Equal(want) {
			t.Fatalf("Get(%s) = %+v, want %+v", want.ID, got, want)
		}
	}
}

func TestGetAllNewestFirst(t *testing.T) {
	s, _ := openTemp(t)
	a := testsupport.TextItem("a", 1*time.Second)
	b := testsupport.TextItem("b", 3*time.Second)
	c := testsupport.TextItem("c", 2*time.Second)
	mustAdd(t, s, a, b, c)

	got := testsupport.Texts(mustAll(t, s))
	if want := []string{"b", "c", "a"}; !slices.Equal(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestGetAllEqualTimestampsOrderedByID(t *testing.T) {
	s, _ := openTemp(t)
	x := testsupport.TextItem("x", 0)
	y := testsupport.TextItem("y", 0)
	mustAdd(t, s, x, y)

	items := mustAll(t, s)
	if len(items) != 2 {
		t.Fatalf("len = %d", len(items))
	}
	if bytes.Compare(items[0].ID[:], items[1].ID[:]) >= 0 {
		t.Fatalf("ids out of order: %s, %s", items[0].ID, items[1].ID)
	}
	// Stable across calls.
	again := mustAll(t, s)
	if items[0].ID != again[0].ID || items[1].ID != again[1].ID {
		t.Fatal("order changed between calls")
	}
}

func TestUpdateReplacesOnlyTarget(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	a := testsupport.TextItem("a", 1*time.Second)
	b := testsupport.TextItem("b", 2*time.Second)
	mustAdd(t, s, a, b)

	a.Pinned = true
	if err := s.Update(ctx, a); err != nil {
		t.Fatalf("Update: %v", err)
	}

	items := mustAll(t, s)
	if got := testsupport.Texts(items); !slices.Equal(got, []string{"b", "a"}) {
		t.Fatalf("pinning moved the item: %v", got)
	}
	if !items[1].Pinned {
		t.Fatal("a not pinned after Update")
	}
	if items[0].Pinned || !items[0].Equal(b) {
		t.Fatal("b changed")
	}
}

func TestUpdateUnknownInserts(t *testing.T) {
	s, _ := openTemp(t)
	it := testsupport.TextItem("new", 0)
	if err := s.Update(context.Background(), it); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if items := mustAll(t, s); len(items) != 1 || !items[0].Equal(it) {
		t.Fatalf("GetAll = %v", testsupport.Texts(items))
	}
}

func TestAddSameIDReplaces(t *testing.T) {
	s, _ := openTemp(t)
	it := testsupport.TextItem("v1", 0)
	mustAdd(t, s, it)
	it.Content = model.Text("v2")
	mustAdd(t, s, it)

	if got := testsupport.Texts(mustAll(t, s)); !slices.Equal(got, []string{"v2"}) {
		t.Fatalf("GetAll = %v", got)
	}
}

func TestRemove(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	a := testsupport.TextItem("a", 0)
	b := testsupport.TextItem("b", time.Second)
	mustAdd(t, s, a, b)

	if err := s.Remove(ctx, a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, uuid.New()); err != nil {
		t.Fatalf("Remove unknown: %v", err)
	}
	if got := testsupport.Texts(mustAll(t, s)); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("GetAll = %v", got)
	}
	if it, _ := s.Get(ctx, a.ID); it != nil {
		t.Fatal("removed item still retrievable")
	}
}

func TestClearNonPinned(t *testing.T) {
	ctx := context.Background()

	t.Run("mixed", func(t *testing.T) {
		s, _ := openTemp(t)
		a := testsupport.TextItem("a", 1*time.Second)
		b := testsupport.TextItem("b", 2*time.Second)
		b.Pinned = true
		c := testsupport.TextItem("c", 3*time.Second)
		mustAdd(t, s, a, b, c)

		n, err := s.ClearNonPinned(ctx)
		if err != nil {
			t.Fatalf("ClearNonPinned: %v", err)
		}
		if n != 2 {
			t.Fatalf("removed %d, want 2", n)
		}
		items := mustAll(t, s)
		if len(items) != 1 || !items[0].Equal(b) {
			t.Fatalf("remaining = %v", testsupport.Texts(items))
		}
	})

	t.Run("empty", func(t *testing.T) {
		s, _ := openTemp(t)
		n, err := s.ClearNonPinned(ctx)
		if err != nil || n != 0 {
			t.Fatalf("ClearNonPinned = %d, %v", n, err)
		}
	})

	t.Run("all pinned", func(t *testing.T) {
		s, _ := openTemp(t)
		a := testsupport.TextItem("a", 0)
		a.Pinned = true
		b := testsupport.TextItem("b", time.Second)
		b.Pinned = true
		mustAdd(t, s, a, b)
		n, err := s.ClearNonPinned(ctx)
		if err != nil || n != 0 {
			t.Fatalf("ClearNonPinned = %d, %v", n, err)
		}
		if len(mustAll(t, s)) != 2 {
			t.Fatal("pinned items removed")
		}
	})
}

func TestEvict(t *testing.T) {
	ctx := context.Background()

	// a..e one second apart, c pinned.
	seed := func(t *testing.T) (*Store, []model.Item) {
		s, _ := openTemp(t)
		var items []model.Item
		for i, text := range []string{"a", "b", "c", "d", "e"} {
			it := testsupport.TextItem(text, time.Duration(i)*time.Second)
			it.Pinned = text == "c"
			items = append(items, it)
		}
		mustAdd(t, s, items...)
		return s, items
	}

	tests := []struct {
		name        string
		before      time.Duration // offset from Base; 0 disables
		keep        int
		wantEvicted []string
		wantLeft    []string
	}{
		{name: "no bounds", wantLeft: []string{"e", "d", "c", "b", "a"}},
		{name: "keep newest two unpinned", keep: 2, wantEvicted: []string{"b", "a"}, wantLeft: []string{"e", "d", "c"}},
		{name: "keep more than stored", keep: 10, wantLeft: []string{"e", "d", "c", "b", "a"}},
		{name: "age", before: 3 * time.Second, wantEvicted: []string{"b", "a"}, wantLeft: []string{"e", "d", "c"}},
		{name: "age spares pinned", before: time.Hour, wantEvicted: []string{"e", "d", "b", "a"}, wantLeft: []string{"c"}},
		{name: "either bound", before: time.Second, keep: 3, wantEvicted: []string{"a"}, wantLeft: []string{"e", "d", "c", "b"}},
		{name: "count reaches past the age cutoff", before: time.Second, keep: 1, wantEvicted: []string{"d", "b", "a"}, wantLeft: []string{"e", "c"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := seed(t)
			var before time.Time
			if tc.before > 0 {
				before = testsupport.Base.Add(tc.before)
			}
			evicted, err := s.Evict(ctx, before, tc.keep)
			if err != nil {
				t.Fatalf("Evict: %v", err)
			}
			if got := testsupport.Texts(evicted); !slices.Equal(got, tc.wantEvicted) {
				t.Fatalf("evicted = %v, want %v", got, tc.wantEvicted)
			}
			if got := testsupport.Texts(mustAll(t, s)); !slices.Equal(got, tc.wantLeft) {
				t.Fatalf("left = %v, want %v", got, tc.wantLeft)
			}
		})
	}
}

func TestCorruptRecordSkipped(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	good := testsupport.TextItem("good", 0)
	mustAdd(t, s, good)

	bad := uuid.New()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO items (id, created_ns, pinned, record) VALUES (?, ?, 0, ?)",
		bad[:], time.Now().UnixNano(), []byte{0, 0, 0, 9, 1, 2})
	if err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	items := mustAll(t, s)
	if len(items) != 1 || !items[0].Equal(good) {
		t.Fatalf("GetAll = %v", testsupport.Texts(items))
	}

	_, err = s.Get(ctx, bad)
	if !errors.Is(err, apperr.ErrSerialization) {
		t.Fatalf("Get corrupt = %v, want serialization error", err)
	}
}

func TestMismatchedKeySkipped(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	it := testsupport.TextItem("moved", 0)
	rec, err := encodeRecord(it)
	if err != nil {
		t.Fatal(err)
	}
	other := uuid.New()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO items (id, created_ns, pinned, record) VALUES (?, ?, 0, ?)",
		other[:], it.Timestamp.UnixNano(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if items := mustAll(t, s); len(items) != 0 {
		t.Fatalf("GetAll = %v", testsupport.Texts(items))
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	a := testsupport.TextItem("a", 0)
	b := testsupport.ImageItem(3, time.Second)
	b.Pinned = true
	mustAdd(t, s, a, b)
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(ctx, dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	items := mustAll(t, s)
	if len(items) != 2 || !items[0].Equal(b) || !items[1].Equal(a) {
		t.Fatalf("after reopen: %+v", items)
	}
}

func TestSecondOpenIsLocked(t *testing.T) {
	s, dir := openTemp(t)
	_, err := Open(context.Background(), dir)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open = %v, want ErrLocked", err)
	}
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("second Open kind = %v", apperr.KindOf(err))
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s2, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	_ = s2.Close()
}

func TestSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_version SET version = 99"); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	_, err = Open(ctx, dir)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("Open = %v, want ErrSchemaMismatch", err)
	}
}

func TestSnapshotsAreIndependent(t *testing.T) {
	s, _ := openTemp(t)
	it := testsupport.ImageItem(1, 0)
	mustAdd(t, s, it)

	first := mustAll(t, s)
	first[0].Content.(model.Image).Pixels[0] = 0xff
	first[0].Pinned = true

	second := mustAll(t, s)
	if !second[0].Equal(it) {
		t.Fatal("mutating a snapshot leaked into the store")
	}
}

func TestStats(t *testing.T) {
	s, _ := openTemp(t)
	a := testsupport.TextItem("a", 0)
	b := testsupport.TextItem("b", time.Second)
	b.Pinned = true
	mustAdd(t, s, a, b)

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 2 || st.Pinned != 1 || st.Path != s.Path() {
		t.Fatalf("Stats = %+v", st)
	}
}

func TestOpenWithoutDir(t *testing.T) {
	_, err := Open(context.Background(), "")
	if !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("Open(\"\") = %v", err)
	}
}
