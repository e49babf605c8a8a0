package tags

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
)

// sqliteBusyTimeoutMs is how long a connection waits on another process's
// lock (an operator command during a scan) before failing with SQLITE_BUSY.
const sqliteBusyTimeoutMs = 5000

const (
	sqliteSchema = `CREATE TABLE IF NOT EXISTS tags (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);`
	sqliteUpsert = `INSERT INTO tags (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

// SQLiteStore persists tags in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One connection: the scan is single-threaded, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tags table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteDSN adds the busy timeout to path, keeping any parameters already
// present.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d", path, sep, sqliteBusyTimeoutMs)
}

// Read returns the value stored under key.
func (s *SQLiteStore) Read(key string) (any, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT value FROM tags WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("read tag %q: %w", key, err)
	}

	v, err := decodeValue(data)
	if err != nil {
		return nil, fmt.Errorf("read tag %q: %w", key, err)
	}
	return v, nil
}

// Write stores value under key.
func (s *SQLiteStore) Write(key string, value any) error {
	return s.WriteBatch([]Write{{Key: key, Value: value}})
}

// WriteBatch applies all writes in one transaction.
func (s *SQLiteStore) WriteBatch(writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &WriteError{Key: writes[0].Key, Err: err}
	}

	stmt, err := tx.Prepare(sqliteUpsert)
	if err != nil {
		tx.Rollback()
		return &WriteError{Key: writes[0].Key, Err: err}
	}
	defer stmt.Close()

	for _, w := range writes {
		data, err := encodeValue(w.Value)
		if err != nil {
			tx.Rollback()
			return &WriteError{Key: w.Key, Err: err}
		}
		if _, err := stmt.Exec(w.Key, data); err != nil {
			tx.Rollback()
			return &WriteError{Key: w.Key, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{Key: writes[len(writes)-1].Key, Err: err}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
