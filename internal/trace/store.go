// Package trace records what the controller was fed and what it emitted,
// in a SQLite database, and replays recordings against a fresh controller.
// Traces are debugging artifacts: controller state is never restored from
// them.
package trace

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"keycore/internal/action"
	"keycore/internal/controller"
	"keycore/internal/keycode"
	"keycore/internal/rgb"
	"keycore/internal/timer"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("trace: session not found")

// Kind is the controller entry point a record was fed to.
type Kind string

const (
	KindInit  Kind = "init"
	KindReset Kind = "reset"
	KindKey   Kind = "key"
	KindLayer Kind = "layer"
	KindTick  Kind = "tick"

	// KindInterrupt is a press the controller only sees as an interruption.
	KindInterrupt Kind = "interrupt"
)

// Record is one controller call and its output. For KindLayer, Code holds
// the layer id and Pressed whether it turned on.
type Record struct {
	Seq      int64
	Kind     Kind
	Time     timer.Time
	Code     keycode.Code
	Pressed  bool
	DX, DY   int
	Refresh  bool
	Commands []action.Command
}

// Session describes one recording.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time
	EndedAt   time.Time
	Note      string
	Config    controller.Config
	RGB       rgb.Snapshot
	Events    int
}

// Open reports whether the session is still recording.
func (s Session) Open() bool { return s.EndedAt.IsZero() }

// Store is the trace database.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path and migrates it.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open trace database: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the database handle for schema tooling.
func (s *Store) DB() *sql.DB { return s.db }

// CreateSession starts a recording with the given controller settings and
// initial RGB state.
func (s *Store) CreateSession(cfg controller.Config, start rgb.Snapshot, note string) (Session, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return Session{}, fmt.Errorf("encode config: %w", err)
	}
	sess := Session{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		Note:      note,
		Config:    cfg,
		RGB:       start,
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, started_at, note, config, rgb_mode, rgb_hsv)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), sess.StartedAt.UnixNano(), note, string(raw),
		int(start.Mode), packHSV(start.HSV),
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// EndSession marks a session finished.
func (s *Store) EndSession(id uuid.UUID) error {
	res, err := s.db.Exec("UPDATE sessions SET ended_at = ? WHERE id = ?", time.Now().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Append stores records of a session in one transaction.
func (s *Store) Append(id uuid.UUID, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	evStmt, err := tx.Prepare(`
		INSERT INTO events (session_id, seq, kind, time_ms, code, pressed, dx, dy, refresh)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer evStmt.Close()

	cmdStmt, err := tx.Prepare(`
		INSERT INTO commands (event_id, ordinal, op, code, value)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare command insert: %w", err)
	}
	defer cmdStmt.Close()

	for _, r := range records {
		res, err := evStmt.Exec(id.String(), r.Seq, string(r.Kind), int64(r.Time),
			int(r.Code), r.Pressed, r.DX, r.DY, r.Refresh)
		if err != nil {
			return fmt.Errorf("insert event %d: %w", r.Seq, err)
		}
		eventID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get event id: %w", err)
		}
		for i, c := range r.Commands {
			if _, err := cmdStmt.Exec(eventID, i, c.Op.String(), int(c.Code), int(c.Value)); err != nil {
				return fmt.Errorf("insert command: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Sessions lists every session, newest first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.started_at, s.ended_at, s.note, s.config, s.rgb_mode, s.rgb_hsv,
		       (SELECT COUNT(*) FROM events e WHERE e.session_id = s.id)
		FROM sessions s ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Session returns one session.
func (s *Store) Session(id uuid.UUID) (Session, error) {
	row := s.db.QueryRow(`
		SELECT s.id, s.started_at, s.ended_at, s.note, s.config, s.rgb_mode, s.rgb_hsv,
		       (SELECT COUNT(*) FROM events e WHERE e.session_id = s.id)
		FROM sessions s WHERE s.id = ?`, id.String())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return sess, err
}

// Latest returns the most recently started session.
func (s *Store) Latest() (Session, error) {
	sessions, err := s.Sessions()
	if err != nil {
		return Session{}, err
	}
	if len(sessions) == 0 {
		return Session{}, ErrSessionNotFound
	}
	return sessions[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (Session, error) {
	var (
		sess    Session
		id, cfg string
		note    sql.NullString
		started int64
		ended   sql.NullInt64
		mode    int
		hsv     int
	)
	if err := sc.Scan(&id, &started, &ended, &note, &cfg, &mode, &hsv, &sess.Events); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Session{}, fmt.Errorf("session id %q: %w", id, err)
	}
	sess.ID = parsed
	sess.StartedAt = time.Unix(0, started)
	if ended.Valid {
		sess.EndedAt = time.Unix(0, ended.Int64)
	}
	sess.Note = note.String
	if err := json.Unmarshal([]byte(cfg), &sess.Config); err != nil {
		return Session{}, fmt.Errorf("decode session config: %w", err)
	}
	sess.RGB = rgb.Snapshot{Mode: rgb.Mode(mode), HSV: unpackHSV(hsv)}
	return sess, nil
}

// Records returns every record of a session in order.
func (s *Store) Records(id uuid.UUID) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT e.id, e.seq, e.kind, e.time_ms, e.code, e.pressed, e.dx, e.dy, e.refresh,
		       c.op, c.code, c.value
		FROM events e LEFT JOIN commands c ON c.event_id = e.id
		WHERE e.session_id = ?
		ORDER BY e.seq, c.ordinal`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var (
		out    []Record
		lastID int64 = -1
	)
	for rows.Next() {
		var (
			eventID int64
			r       Record
			kind    string
			t       int64
			code    int
			op      sql.NullString
			cCode   sql.NullInt64
			cValue  sql.NullInt64
		)
		if err := rows.Scan(&eventID, &r.Seq, &kind, &t, &code, &r.Pressed, &r.DX, &r.DY, &r.Refresh,
			&op, &cCode, &cValue); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if eventID != lastID {
			r.Kind = Kind(kind)
			r.Time = timer.Time(t)
			r.Code = keycode.Code(code)
			out = append(out, r)
			lastID = eventID
		}
		if op.Valid {
			o, err := action.ParseOp(op.String)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", r.Seq, err)
			}
			last := &out[len(out)-1]
			last.Commands = append(last.Commands, action.Command{
				Op:    o,
				Code:  keycode.Code(cCode.Int64),
				Value: uint16(cValue.Int64),
			})
		}
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its records.
func (s *Store) DeleteSession(id uuid.UUID) error {
	res, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func packHSV(c rgb.HSV) int { return int(c.H)<<16 | int(c.S)<<8 | int(c.V) }

func unpackHSV(v int) rgb.HSV {
	return rgb.HSV{H: uint8(v >> 16), S: uint8(v >> 8), V: uint8(v)}
}
