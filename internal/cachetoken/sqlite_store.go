package cachetoken

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reach-systems/planrt/internal/planerr"
)

// SQLiteStore persists compiled-step cache-token bookkeeping to a local
// sqlite file, for callers (the planctl CLI, in SPEC_FULL's scope) who want
// a cache hit/miss record that survives process restarts. Grounded on the
// teacher's internal/storage.SQLiteStore — same open-with-WAL, embedded
// schema-on-first-use shape, reduced to the one table this package needs.
// The CORE's in-process interpreter/partitioner never touches this type;
// it implements the opaque Store interface purely for an external cache
// layer to use alongside computed tokens (§1: "cache storage is external").
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a sqlite-backed token store at
// path.
func NewSQLiteStore(path string) (*SQLiteStore, *planerr.PlanError) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, planerr.Wrap(err, planerr.CodeInternal, "create cache token store directory")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, planerr.Wrap(err, planerr.CodeInternal, "open cache token store")
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, planerr.Wrap(err, planerr.CodeInternal, "enable WAL on cache token store")
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_tokens (
		token TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`); err != nil {
		db.Close()
		return nil, planerr.Wrap(err, planerr.CodeInternal, "migrate cache token store")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Put records that token maps to value (a string caller-meaningful
// payload, e.g. a serialized artifact location).
func (s *SQLiteStore) Put(t Token, value any) {
	str, ok := value.(string)
	if !ok {
		str = t.String()
	}
	_, _ = s.db.ExecContext(context.Background(),
		"INSERT INTO cache_tokens(token,value,created_at) VALUES(?,?,?) ON CONFLICT(token) DO UPDATE SET value=excluded.value",
		t.String(), str, time.Now().UTC().Format(time.RFC3339Nano))
}

// Get returns the stored value for t, if present.
func (s *SQLiteStore) Get(t Token) (any, bool) {
	var value string
	err := s.db.QueryRowContext(context.Background(), "SELECT value FROM cache_tokens WHERE token=?", t.String()).Scan(&value)
	if err != nil {
		return nil, false
	}
	return value, true
}

func (s *SQLiteStore) Has(t Token) bool {
	_, ok := s.Get(t)
	return ok
}

func (s *SQLiteStore) Len() int {
	var n int
	_ = s.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM cache_tokens").Scan(&n)
	return n
}
