// Package store persists clipboard history in a SQLite database inside the
// data directory.
//
// The store holds one table keyed by the 16-byte item id. Each row carries the
// full item as a length-prefixed record (see record.go). All operations are
// serialized by a mutex held for the duration of one call.
//
// Durability: the database runs in WAL mode with synchronous=NORMAL, so a
// mutation that has returned may still be lost on power failure. Flush is the
// durability barrier; after it returns every earlier mutation is on disk.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"go.klb.dev/clipstash/internal/apperr"
)

const (
	dbFile   = "history.db"
	lockFile = "clipstash.lock"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. There is no migration path:
// bumping it means users remove their history database.
const schemaVersion = 1

var (
	// ErrSchemaMismatch indicates the database was written by an incompatible version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrLocked indicates another process owns the data directory.
	ErrLocked = errors.New("data directory is in use by another clipstash process")
)

// Store is the durable history store.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open locks dir, opens (creating if needed) the history database in it, and
// runs Init.
func Open(ctx context.Context, dir string) (*Store, error) {
	if dir == "" {
		return nil, apperr.Errorf(apperr.KindConfig, "open store", "data directory is not set")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apperr.New(apperr.KindIO, "create data dir", err)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, apperr.New(apperr.KindIO, "lock data dir", err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindStorage, "lock data dir", fmt.Errorf("%w: %s", ErrLocked, dir))
	}

	dbPath := filepath.Join(dir, dbFile)
	dsn := dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, apperr.New(apperr.KindStorage, "open sqlite db", err)
	}
	// One connection: the mutex already serializes callers, and per-connection
	// state (WAL checkpoints) stays predictable.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dbPath, lock: lock}
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Init prepares the schema. It is safe to call any number of times.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initSchema(ctx)
}

// Close flushes nothing; call Flush first if the last writes matter.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Close()
	if uerr := s.lock.Unlock(); err == nil && uerr != nil {
		err = uerr
	}
	if err != nil {
		return apperr.New(apperr.KindStorage, "close store", err)
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return apperr.New(apperr.KindStorage, "check schema_version table", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return apperr.New(apperr.KindStorage, "read schema version", err)
	}
	if version != schemaVersion {
		return apperr.New(apperr.KindStorage, "check schema version",
			fmt.Errorf("%w: database has version %d, expected %d (remove %s to start a new history)",
				ErrSchemaMismatch, version, schemaVersion, s.path))
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.New(apperr.KindStorage, "begin schema tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return apperr.New(apperr.KindStorage, "create schema", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return apperr.New(apperr.KindStorage, "record schema version", err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.New(apperr.KindStorage, "commit schema", err)
	}
	return nil
}
