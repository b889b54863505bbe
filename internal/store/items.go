package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/clipstash/internal/apperr"
	"go.klb.dev/clipstash/internal/model"
)

// GetAll returns every item, most recent first. Items with equal timestamps
// are ordered by id. Records that fail to decode are logged and skipped.
func (s *Store) GetAll(ctx context.Context) ([]model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, record FROM items ORDER BY created_ns DESC, id ASC")
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "scan items", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var key, rec []byte
		if err := rows.Scan(&key, &rec); err != nil {
			return nil, apperr.New(apperr.KindStorage, "scan items", err)
		}
		it, err := decodeRow(key, rec)
		if err != nil {
			slog.Warn("skipping unreadable history record", "key", fmt.Sprintf("%x", key), "err", err)
			continue
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.New(apperr.KindStorage, "scan items", err)
	}

	// The projection column drives the query order; the record is
	// authoritative, so re-sort on it.
	slices.SortStableFunc(items, compareNewestFirst)
	return items, nil
}

// Get returns the item with id, or nil if there is none.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec []byte
	err := s.db.QueryRowContext(ctx, "SELECT record FROM items WHERE id = ?", id[:]).Scan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "get item", err)
	}
	it, err := decodeRow(id[:], rec)
	if err != nil {
		return nil, apperr.New(apperr.KindSerialization, "get item", err)
	}
	return &it, nil
}

// Add stores it, replacing any record with the same id.
func (s *Store) Add(ctx context.Context, it model.Item) error {
	return s.put(ctx, "add item", it)
}

// Update replaces the record with it.ID. An unknown id is inserted, exactly
// as Add would.
func (s *Store) Update(ctx context.Context, it model.Item) error {
	return s.put(ctx, "update item", it)
}

func (s *Store) put(ctx context.Context, op string, it model.Item) error {
	rec, err := encodeRecord(it)
	if err != nil {
		return apperr.New(apperr.KindSerialization, op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (id, created_ns, pinned, record) VALUES (?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             created_ns = excluded.created_ns,
             pinned     = excluded.pinned,
             record     = excluded.record`,
		it.ID[:], it.Timestamp.UnixNano(), boolToInt(it.Pinned), rec,
	)
	if err != nil {
		return apperr.New(apperr.KindStorage, op, err)
	}
	slog.Debug("history item stored", "op", op, "id", it.ID, "pinned", it.Pinned)
	return nil
}

// Remove deletes the item with id. Removing an unknown id is not an error.
func (s *Store) Remove(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id[:]); err != nil {
		return apperr.New(apperr.KindStorage, "remove item", err)
	}
	slog.Debug("history item removed", "id", id)
	return nil
}

// ClearNonPinned deletes every unpinned item and returns how many went.
func (s *Store) ClearNonPinned(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE pinned = 0")
	if err != nil {
		return 0, apperr.New(apperr.KindStorage, "clear unpinned items", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.New(apperr.KindStorage, "clear unpinned items", err)
	}
	slog.Info("unpinned history items cleared", "removed", n)
	return int(n), nil
}

// Evict deletes unpinned items created before before, and unpinned items
// beyond the newest keep. A zero before or a keep of 0 disables that bound.
// The evicted items are returned newest first; a deleted record that cannot
// be decoded is logged and left out.
func (s *Store) Evict(ctx context.Context, before time.Time, keep int) ([]model.Item, error) {
	var (
		conds []string
		args  []any
	)
	if !before.IsZero() {
		conds = append(conds, "created_ns < ?")
		args = append(args, before.UnixNano())
	}
	if keep > 0 {
		conds = append(conds, `id NOT IN (
            SELECT id FROM items WHERE pinned = 0
            ORDER BY created_ns DESC, id ASC LIMIT ?)`)
		args = append(args, keep)
	}
	if len(conds) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"DELETE FROM items WHERE pinned = 0 AND ("+strings.Join(conds, " OR ")+") RETURNING id, record",
		args...)
	if err != nil {
		return nil, apperr.New(apperr.KindStorage, "evict items", err)
	}
	defer rows.Close()

	var evicted []model.Item
	for rows.Next() {
		var key, rec []byte
		if err := rows.Scan(&key, &rec); err != nil {
			return nil, apperr.New(apperr.KindStorage, "evict items", err)
		}
		it, err := decodeRow(key, rec)
		if err != nil {
			slog.Warn("evicted unreadable history record", "key", fmt.Sprintf("%x", key), "err", err)
			continue
		}
		evicted = append(evicted, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.New(apperr.KindStorage, "evict items", err)
	}
	slices.SortStableFunc(evicted, compareNewestFirst)
	return evicted, nil
}

// Flush checkpoints the write-ahead log into the database file and syncs it.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var busy, logFrames, checkpointed int
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(FULL)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return apperr.New(apperr.KindStorage, "flush", err)
	}
	if busy != 0 {
		return apperr.Errorf(apperr.KindStorage, "flush", "checkpoint blocked (%d of %d frames written)", checkpointed, logFrames)
	}
	return nil
}

// Stats summarises the store contents.
type Stats struct {
	Total  int
	Pinned int
	Path   string
}

// Stats counts stored items.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Path: s.path}
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1), COALESCE(SUM(pinned), 0) FROM items").Scan(&st.Total, &st.Pinned)
	if err != nil {
		return st, apperr.New(apperr.KindStorage, "stats", err)
	}
	return st, nil
}

func decodeRow(key, rec []byte) (model.Item, error) {
	it, err := decodeRecord(rec)
	if err != nil {
		return it, err
	}
	if !bytes.Equal(it.ID[:], key) {
		return it, fmt.Errorf("%w: record id %s does not match key %x", errCorruptRecord, it.ID, key)
	}
	return it, nil
}

func compareNewestFirst(a, b model.Item) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
