package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// TimeLayout is the fixed-width timestamp format stored in created_at and
// updated_at. Fixed width keeps lexical and chronological order identical.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

const busyTimeout = 5000 // milliseconds

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Option configures a DB at open time.
type Option func(*DB)

// WithClock replaces the wall clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// Open creates the database file (and its directory) if needed, switches it
// to WAL mode and ensures the schema is up to date.
func Open(path string, opts ...Option) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, busyTimeout)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	db := &DB{conn: conn, path: path, now: time.Now}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// JournalMode reports the active journal mode, "wal" once Open succeeded.
func (db *DB) JournalMode() (string, error) {
	var mode string
	if err := db.conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", fmt.Errorf("failed to read journal mode: %w", err)
	}
	return mode, nil
}

func (db *DB) timestamp() string {
	return db.now().UTC().Format(TimeLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
