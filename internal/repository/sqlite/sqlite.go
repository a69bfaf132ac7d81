// Package sqlite implements the repository interfaces on SQLite.
//
// Uniqueness of provider links is enforced by the schema, not by application
// locks. Get-or-create runs "INSERT ... ON CONFLICT DO NOTHING" and then
// reads the row back, so two requests racing to create the same account both
// end up with the single winning row.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// The "sqlite" driver is registered by modernc.org/sqlite, imported in
// accounts.go for its error codes.

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/fixjam.db"  → file-based database
//   - ":memory:"        → in-memory database (single connection)
//
// PRAGMAS GO IN THE DSN:
// sql.DB is a pool, and a PRAGMA executed with conn.Exec only reaches one
// pooled connection. Passing them as _pragma parameters applies them to every
// connection the driver opens.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a different database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func dsn(dbPath string) string {
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_time_format=sqlite",
	}
	if dbPath != ":memory:" {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + strings.Join(pragmas, "&")
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Migrate re-applies the schema. New already calls it; calling it again is a no-op.
func (db *DB) Migrate() error {
	return db.migrate()
}

// migrate creates the schema. Every statement is idempotent.
//
// IDENTITY LINKS:
// identities carries one nullable, UNIQUE column per provider. SQLite allows
// many NULLs in a UNIQUE column, so the constraint only binds real links.
// The CHECK keeps at most one link per row.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"native_accounts", `
			CREATE TABLE IF NOT EXISTS native_accounts (
				id            TEXT PRIMARY KEY,
				username      TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				first_name    TEXT NOT NULL DEFAULT '',
				last_name     TEXT NOT NULL DEFAULT '',
				active        INTEGER NOT NULL DEFAULT 1,
				created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"facebook_accounts", `
			CREATE TABLE IF NOT EXISTS facebook_accounts (
				id         TEXT PRIMARY KEY,
				remote_id  INTEGER NOT NULL UNIQUE,
				data_cache TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"twitter_accounts", `
			CREATE TABLE IF NOT EXISTS twitter_accounts (
				id           TEXT PRIMARY KEY,
				screen_name  TEXT NOT NULL UNIQUE,
				oauth_token  TEXT NOT NULL DEFAULT '',
				oauth_secret TEXT NOT NULL DEFAULT '',
				data_cache   TEXT,
				created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"identities", `
			CREATE TABLE IF NOT EXISTS identities (
				id                  TEXT PRIMARY KEY,
				native_account_id   TEXT UNIQUE REFERENCES native_accounts(id),
				facebook_account_id TEXT UNIQUE REFERENCES facebook_accounts(id),
				twitter_account_id  TEXT UNIQUE REFERENCES twitter_accounts(id),
				location            TEXT,
				banned              INTEGER NOT NULL DEFAULT 0,
				admin_notes         TEXT NOT NULL DEFAULT '',
				created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				CHECK ((native_account_id IS NOT NULL)
				     + (facebook_account_id IS NOT NULL)
				     + (twitter_account_id IS NOT NULL) <= 1)
			);`},
		{"locations", `
			CREATE TABLE IF NOT EXISTS locations (
				id                TEXT PRIMARY KEY,
				name              TEXT NOT NULL,
				lat               REAL NOT NULL,
				long              REAL NOT NULL,
				facebook_place_id TEXT UNIQUE,
				created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_locations_name ON locations(name);`},
	}

	for _, step := range steps {
		if _, err := db.conn.Exec(step.sql); err != nil {
			return fmt.Errorf("creating %s: %w", step.name, err)
		}
	}
	return nil
}
