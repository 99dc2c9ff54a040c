package trace

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Migration is one schema step.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Sessions, controller inputs and emitted commands",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Record indicator refreshes and the RGB state at session start",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    started_at      INTEGER NOT NULL,
    ended_at        INTEGER,
    note            TEXT,
    config          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq             INTEGER NOT NULL,
    kind            TEXT NOT NULL,
    time_ms         INTEGER NOT NULL,
    code            INTEGER NOT NULL DEFAULT 0,
    pressed         INTEGER NOT NULL DEFAULT 0,
    dx              INTEGER NOT NULL DEFAULT 0,
    dy              INTEGER NOT NULL DEFAULT 0,
    UNIQUE (session_id, seq)
);

CREATE TABLE IF NOT EXISTS commands (
    event_id        INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    ordinal         INTEGER NOT NULL,
    op              TEXT NOT NULL,
    code            INTEGER NOT NULL,
    value           INTEGER NOT NULL,
    PRIMARY KEY (event_id, ordinal)
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS commands;
DROP TABLE IF EXISTS events;
DROP TABLE IF EXISTS sessions;
`

const migrationV2Up = `
ALTER TABLE events ADD COLUMN refresh INTEGER NOT NULL DEFAULT 0;
ALTER TABLE sessions ADD COLUMN rgb_mode INTEGER NOT NULL DEFAULT 0;
ALTER TABLE sessions ADD COLUMN rgb_hsv INTEGER NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq);
`

const migrationV2Down = `
DROP INDEX IF EXISTS idx_events_session;
ALTER TABLE events DROP COLUMN refresh;
ALTER TABLE sessions DROP COLUMN rgb_mode;
ALTER TABLE sessions DROP COLUMN rgb_hsv;
`

// ErrNoMigrations is returned by Rollback on an empty schema.
var ErrNoMigrations = errors.New("trace: no migrations to roll back")

// Migrate applies every pending migration.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// Rollback reverts the most recent migration.
func Rollback(db *sql.DB) error {
	current, err := currentVersion(db)
	if err != nil {
		return err
	}
	if current == 0 {
		return ErrNoMigrations
	}

	var m *Migration
	for i := range migrations {
		if migrations[i].Version == current {
			m = &migrations[i]
			break
		}
	}
	if m == nil {
		return fmt.Errorf("migration %d not found", current)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin rollback: %w", err)
	}
	if _, err := tx.Exec(m.Down); err != nil {
		tx.Rollback()
		return fmt.Errorf("rollback migration %d: %w", current, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
		tx.Rollback()
		return fmt.Errorf("remove migration record: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion returns the applied schema version and the latest known one.
func SchemaVersion(db *sql.DB) (current, latest int, err error) {
	current, err = currentVersion(db)
	return current, migrations[len(migrations)-1].Version, err
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}
