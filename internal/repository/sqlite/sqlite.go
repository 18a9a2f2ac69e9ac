// Package sqlite implements the repository interfaces on an embedded
// SQLite database via the pure-Go modernc.org/sqlite driver, so the binary
// needs no C toolchain and deployments are a single file.
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps the sql.DB pool and carries all repository methods.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
// Use ":memory:" in tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL keeps reads concurrent with writes; foreign keys enforce the
	// execution -> script/user references.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_active     INTEGER NOT NULL DEFAULT 1,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_login    DATETIME
		);

		CREATE TABLE IF NOT EXISTS scripts (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			filename     TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			requirements TEXT NOT NULL DEFAULT '',
			output_type  TEXT NOT NULL DEFAULT 'both',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS invitations (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			token      TEXT NOT NULL UNIQUE,
			used       INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_invitations_email ON invitations(email);

		CREATE TABLE IF NOT EXISTS executions (
			id               TEXT PRIMARY KEY,
			script_id        TEXT NOT NULL REFERENCES scripts(id),
			user_id          TEXT NOT NULL REFERENCES users(id),
			arguments        TEXT NOT NULL DEFAULT '',
			stdout           TEXT NOT NULL DEFAULT '',
			stderr           TEXT NOT NULL DEFAULT '',
			exit_code        INTEGER NOT NULL DEFAULT 0,
			timed_out        INTEGER NOT NULL DEFAULT 0,
			error_message    TEXT NOT NULL DEFAULT '',
			missing_packages TEXT NOT NULL DEFAULT '[]',
			package_warnings TEXT NOT NULL DEFAULT '[]',
			output_files     TEXT NOT NULL DEFAULT '[]',
			storage_degraded INTEGER NOT NULL DEFAULT 0,
			email_sent       INTEGER NOT NULL DEFAULT 0,
			cleaned_up       INTEGER NOT NULL DEFAULT 0,
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_executions_user_id ON executions(user_id);
		CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}
