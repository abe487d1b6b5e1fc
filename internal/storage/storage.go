package storage

import (
	"context"
	"errors"
	"time"

	"habitkeeper/internal/decision"
	"habitkeeper/internal/event"
)

var ErrNotFound = errors.New("not found")

// HabitTiming is the timing configuration of one habit.
type HabitTiming struct {
	HabitID                string             `json:"id" yaml:"id"`
	Name                   string             `json:"name" yaml:"name"`
	TimerEnabled           bool               `json:"timer_enabled" yaml:"timer_enabled"`
	RequireTimerToComplete bool               `json:"require_timer" yaml:"require_timer"`
	TimerType              decision.TimerType `json:"timer_type" yaml:"timer_type"`
	MinDurationSec         int                `json:"min_duration_sec" yaml:"min_duration_sec"`
	TargetDurationSec      int                `json:"target_duration_sec" yaml:"target_duration_sec"`
	BreakDurationSec       int                `json:"break_duration_sec" yaml:"break_duration_sec"`
	LogPartial             bool               `json:"log_partial" yaml:"log_partial"`
}

type SessionState string

const (
	SessionRunning   SessionState = "running"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionStopped   SessionState = "stopped"
)

// Session is a timer session record.
type Session struct {
	ID             string
	HabitID        string
	State          SessionState
	TimerType      decision.TimerType
	TargetSec      int
	BreakSec       int
	AccumulatedSec float64 // Time counted before the current running stretch
	ResumedAt      time.Time
	InBreak        bool
	StartedAt      time.Time
	UpdatedAt      time.Time
}

func (s *Session) Active() bool {
	return s.State == SessionRunning || s.State == SessionPaused
}

// Elapsed includes the current running stretch, if any.
func (s *Session) Elapsed(now time.Time) time.Duration {
	d := time.Duration(s.AccumulatedSec * float64(time.Second))
	if s.State == SessionRunning && !s.ResumedAt.IsZero() && now.After(s.ResumedAt) {
		d += now.Sub(s.ResumedAt)
	}
	return d
}

// TimingStore is what the coordinator reads before each decision.
type TimingStore interface {
	GetActiveTimerSession(ctx context.Context, habitID string) (*Session, error)
	GetHabitTiming(ctx context.Context, habitID string) (*HabitTiming, error)
	LogPartialSession(ctx context.Context, habitID string, duration time.Duration, note string) (int64, error)
}

type CompletionStore interface {
	MarkHabitAsDone(ctx context.Context, habitID string, date time.Time) error
	IsCompletedOn(ctx context.Context, habitID string, date time.Time) (bool, error)
}

// SessionStore is written by the timer controller.
type SessionStore interface {
	SaveSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListActiveSessions(ctx context.Context) ([]Session, error)
}

type HabitStore interface {
	SaveHabitTiming(ctx context.Context, h HabitTiming) error
	ListHabits(ctx context.Context) ([]HabitTiming, error)
}

type EventLog interface {
	SaveEvent(ctx context.Context, r event.Record) (int64, error)
	GetEvents(ctx context.Context, start, end time.Time, types ...event.RecordType) ([]event.Record, error)
}

// Storage is the full persistence surface of the daemon.
type Storage interface {
	TimingStore
	CompletionStore
	SessionStore
	HabitStore
	EventLog
	Init(ctx context.Context) error
	Close() error
}
