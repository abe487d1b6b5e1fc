package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"habitkeeper/internal/decision"
	"habitkeeper/internal/event"
	"habitkeeper/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

const dayLayout = "2006-01-02"

type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

func NewSQLiteStore(dbPath string) storage.Storage {
	return &SQLiteStore{dbPath: dbPath}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS habits (
	id TEXT PRIMARY KEY,
	name TEXT,
	timer_enabled INTEGER NOT NULL DEFAULT 0,
	require_timer INTEGER NOT NULL DEFAULT 0,
	timer_type TEXT,
	min_duration_sec INTEGER NOT NULL DEFAULT 0,
	target_duration_sec INTEGER NOT NULL DEFAULT 0,
	break_duration_sec INTEGER NOT NULL DEFAULT 0,
	log_partial INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS timer_sessions (
	id TEXT PRIMARY KEY,
	habit_id TEXT NOT NULL,
	state TEXT NOT NULL,
	timer_type TEXT,
	target_sec INTEGER NOT NULL DEFAULT 0,
	break_sec INTEGER NOT NULL DEFAULT 0,
	accumulated_sec REAL NOT NULL DEFAULT 0,
	resumed_at DATETIME,
	in_break INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_habit_state ON timer_sessions (habit_id, state);
CREATE TABLE IF NOT EXISTS completions (
	habit_id TEXT NOT NULL,
	day TEXT NOT NULL,
	completed_at DATETIME NOT NULL,
	PRIMARY KEY (habit_id, day)
);
CREATE TABLE IF NOT EXISTS partial_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	habit_id TEXT NOT NULL,
	duration_sec REAL NOT NULL,
	note TEXT,
	logged_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	type TEXT NOT NULL,
	habit_id TEXT,
	intent TEXT,
	tag TEXT,
	value REAL,
	notes TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (type);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create db directory %s: %w", dir, err)
	}

	log.Printf("Initializing SQLite database at: %s", s.dbPath)
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s.db = db

	// Single writer connection; the coordinator persists from several goroutines.
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Minute * 5)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	log.Println("Database initialized successfully.")
	return nil
}

func (s *SQLiteStore) SaveHabitTiming(ctx context.Context, h storage.HabitTiming) error {
	if h.HabitID == "" {
		return errors.New("habit id cannot be empty")
	}
	query := `INSERT INTO habits (id, name, timer_enabled, require_timer, timer_type, min_duration_sec, target_duration_sec, break_duration_sec, log_partial)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	            name = excluded.name,
	            timer_enabled = excluded.timer_enabled,
	            require_timer = excluded.require_timer,
	            timer_type = excluded.timer_type,
	            min_duration_sec = excluded.min_duration_sec,
	            target_duration_sec = excluded.target_duration_sec,
	            break_duration_sec = excluded.break_duration_sec,
	            log_partial = excluded.log_partial`
	_, err := s.db.ExecContext(ctx, query, h.HabitID, h.Name, h.TimerEnabled, h.RequireTimerToComplete, string(h.TimerType),
		h.MinDurationSec, h.TargetDurationSec, h.BreakDurationSec, h.LogPartial)
	if err != nil {
		return fmt.Errorf("failed to save habit %s: %w", h.HabitID, err)
	}
	return nil
}

const habitColumns = `id, name, timer_enabled, require_timer, timer_type, min_duration_sec, target_duration_sec, break_duration_sec, log_partial`

func scanHabit(row interface{ Scan(...any) error }) (storage.HabitTiming, error) {
	var h storage.HabitTiming
	var name, timerType sql.NullString
	err := row.Scan(&h.HabitID, &name, &h.TimerEnabled, &h.RequireTimerToComplete, &timerType,
		&h.MinDurationSec, &h.TargetDurationSec, &h.BreakDurationSec, &h.LogPartial)
	h.Name = name.String
	h.TimerType = decision.TimerType(timerType.String)
	return h, err
}

// GetHabitTiming returns nil without error for an unknown habit.
func (s *SQLiteStore) GetHabitTiming(ctx context.Context, habitID string) (*storage.HabitTiming, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+habitColumns+` FROM habits WHERE id = ?`, habitID)
	h, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load habit %s: %w", habitID, err)
	}
	return &h, nil
}

func (s *SQLiteStore) ListHabits(ctx context.Context) ([]storage.HabitTiming, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+habitColumns+` FROM habits ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query habits: %w", err)
	}
	defer rows.Close()

	var habits []storage.HabitTiming
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan habit row: %w", err)
		}
		habits = append(habits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating habit rows: %w", err)
	}
	return habits, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess storage.Session) error {
	var resumedAt sql.NullTime
	if !sess.ResumedAt.IsZero() {
		resumedAt = sql.NullTime{Time: sess.ResumedAt, Valid: true}
	}
	query := `INSERT INTO timer_sessions (id, habit_id, state, timer_type, target_sec, break_sec, accumulated_sec, resumed_at, in_break, started_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	            state = excluded.state,
	            target_sec = excluded.target_sec,
	            break_sec = excluded.break_sec,
	            accumulated_sec = excluded.accumulated_sec,
	            resumed_at = excluded.resumed_at,
	            in_break = excluded.in_break,
	            updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query, sess.ID, sess.HabitID, string(sess.State), string(sess.TimerType),
		sess.TargetSec, sess.BreakSec, sess.AccumulatedSec, resumedAt, sess.InBreak, sess.StartedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}

const sessionColumns = `id, habit_id, state, timer_type, target_sec, break_sec, accumulated_sec, resumed_at, in_break, started_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*storage.Session, error) {
	var sess storage.Session
	var state string
	var timerType sql.NullString
	var resumedAt sql.NullTime
	if err := row.Scan(&sess.ID, &sess.HabitID, &state, &timerType, &sess.TargetSec, &sess.BreakSec,
		&sess.AccumulatedSec, &resumedAt, &sess.InBreak, &sess.StartedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.State = storage.SessionState(state)
	sess.TimerType = decision.TimerType(timerType.String)
	if resumedAt.Valid {
		sess.ResumedAt = resumedAt.Time
	}
	return &sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM timer_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]storage.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM timer_sessions WHERE state IN (?, ?) ORDER BY updated_at ASC`
	rows, err := s.db.QueryContext(ctx, query, string(storage.SessionRunning), string(storage.SessionPaused))
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []storage.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// GetActiveTimerSession returns the most recently touched running or paused
// session of the habit, or nil when there is none.
func (s *SQLiteStore) GetActiveTimerSession(ctx context.Context, habitID string) (*storage.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM timer_sessions
	          WHERE habit_id = ? AND state IN (?, ?)
	          ORDER BY updated_at DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, habitID, string(storage.SessionRunning), string(storage.SessionPaused))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active session for %s: %w", habitID, err)
	}
	return sess, nil
}

func (s *SQLiteStore) LogPartialSession(ctx context.Context, habitID string, duration time.Duration, note string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO partial_sessions (habit_id, duration_sec, note, logged_at) VALUES (?, ?, ?, ?)`,
		habitID, duration.Seconds(), note, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to log partial session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// MarkHabitAsDone is idempotent per calendar day of date.
func (s *SQLiteStore) MarkHabitAsDone(ctx context.Context, habitID string, date time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO completions (habit_id, day, completed_at) VALUES (?, ?, ?)`,
		habitID, date.Format(dayLayout), date)
	if err != nil {
		return fmt.Errorf("failed to mark %s as done: %w", habitID, err)
	}
	return nil
}

func (s *SQLiteStore) IsCompletedOn(ctx context.Context, habitID string, date time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM completions WHERE habit_id = ? AND day = ?`,
		habitID, date.Format(dayLayout)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query completion of %s: %w", habitID, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, r event.Record) (int64, error) {
	query := `INSERT INTO events (timestamp, type, habit_id, intent, tag, value, notes)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, r.Timestamp, string(r.Type), r.HabitID, r.Intent, r.Tag, r.Value, r.Notes)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetEvents(ctx context.Context, start, end time.Time, types ...event.RecordType) ([]event.Record, error) {
	query := `SELECT id, timestamp, type, habit_id, intent, tag, value, notes
	          FROM events
	          WHERE timestamp >= ? AND timestamp <= ?`
	args := []interface{}{start, end}

	if len(types) > 0 {
		placeholders := strings.Repeat("?,", len(types)-1) + "?"
		query += fmt.Sprintf(" AND type IN (%s)", placeholders)
		for _, t := range types {
			args = append(args, string(t))
		}
	}

	query += " ORDER BY timestamp ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []event.Record
	for rows.Next() {
		var r event.Record
		var typ string
		var habitID, intent, tag, notes sql.NullString
		var value sql.NullFloat64

		if err := rows.Scan(&r.ID, &r.Timestamp, &typ, &habitID, &intent, &tag, &value, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		r.Type = event.RecordType(typ)
		r.HabitID = habitID.String
		r.Intent = intent.String
		r.Tag = tag.String
		r.Value = value.Float64
		r.Notes = notes.String
		records = append(records, r)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		log.Println("Closing database connection.")
		return s.db.Close()
	}
	return nil
}
