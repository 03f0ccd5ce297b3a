// Package store implements the durable side of the master server: accounts,
// friend edges, and lobby records on SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint (username, friend edge).
	ErrDuplicate = errors.New("store: duplicate")
	// ErrLobbyFull is returned by AddLobbyPlayer when the lobby is at
	// capacity. The capacity check and increment are a single conditional
	// UPDATE, so two joins racing for the last slot cannot both succeed.
	ErrLobbyFull = errors.New("store: lobby full")
)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// The pragmas ride in the DSN so that every connection in the database/sql
// pool gets them, not just the one a plain PRAGMA statement happens to run
// on: WAL for concurrent reads (the REST handlers and the realtime loop
// share this database), foreign keys on, and a busy timeout so writers
// racing for the lock retry instead of failing with SQLITE_BUSY.
func Open(path string) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS friends (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id    TEXT NOT NULL,
		friend_id  TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (friend_id) REFERENCES users(id),
		UNIQUE(user_id, friend_id)
	);

	CREATE TABLE IF NOT EXISTS lobbies (
		id            TEXT PRIMARY KEY,
		host_id       TEXT NOT NULL,
		host_username TEXT NOT NULL,
		player_count  INTEGER NOT NULL,
		max_players   INTEGER NOT NULL,
		created_at    INTEGER NOT NULL,
		FOREIGN KEY (host_id) REFERENCES users(id),
		CHECK (player_count > 0 AND player_count <= max_players)
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite uniqueness constraint
// failure. modernc.org/sqlite surfaces these as plain errors whose message
// includes the constraint kind.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE")
}
