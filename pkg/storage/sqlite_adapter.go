package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo
)

// SQLiteAdapter implements Adapter as a single blob-keyed table in a
// SQLite database, following the teacher's connection-pool and pragma
// defaults (WAL journal, normal sync, busy timeout).
type SQLiteAdapter struct {
	db *sql.DB
}

// OpenSQLiteAdapter opens (creating if absent) a SQLite-backed Adapter at
// path.
func OpenSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-2000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite adapter: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blobs table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_blobs_key ON blobs(key)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blobs index: %w", err)
	}

	return &SQLiteAdapter{db: db}, nil
}

func (a *SQLiteAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var blob []byte
	err := a.db.QueryRowContext(ctx, `SELECT value FROM blobs WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return blob, true, nil
}

func (a *SQLiteAdapter) Put(ctx context.Context, key string, blob []byte) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO blobs (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, blob)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (a *SQLiteAdapter) Delete(ctx context.Context, key string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (a *SQLiteAdapter) List(ctx context.Context, prefix string) (Iterator, error) {
	// SQLite has no native prefix scan, so emulate it with a
	// [prefix, upper) range over the key column; the key index keeps this a logarithmic seek
	// plus a linear scan of the matching run, same complexity class as a
	// prefix-ordered key-value store's range iterator.
	upper := prefixUpperBound(prefix)
	rows, err := a.db.QueryContext(ctx, `
		SELECT key FROM blobs WHERE key >= ? AND key < ? ORDER BY key
	`, prefix, upper)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return &sqlRowsIterator{rows: rows}, nil
}

func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

// prefixUpperBound returns the smallest string greater than every string
// with the given prefix, for use as an exclusive range bound.
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return strings.Repeat("\xff", len(b)+1)
}

type sqlRowsIterator struct {
	rows *sql.Rows
	key  string
	err  error
}

func (it *sqlRowsIterator) Next() bool {
	if !it.rows.Next() {
		return false
	}
	if err := it.rows.Scan(&it.key); err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *sqlRowsIterator) Key() string { return it.key }

func (it *sqlRowsIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *sqlRowsIterator) Close() error { return it.rows.Close() }
