package event

import (
	"fmt"
	"time"
)

// TimerEventKind identifies a lifecycle event emitted by a timer controller.
type TimerEventKind string

const (
	TimerStarted       TimerEventKind = "started"
	TimerTick          TimerEventKind = "tick"
	TimerPaused        TimerEventKind = "paused"
	TimerResumed       TimerEventKind = "resumed"
	TimerCompleted     TimerEventKind = "completed"
	TimerError         TimerEventKind = "error"
	TimerExtended      TimerEventKind = "extended"
	TimerReachedTarget TimerEventKind = "reached_target"
	TimerOvertime      TimerEventKind = "overtime"
	TimerAutoPaused    TimerEventKind = "auto_paused"
)

// TimerEvent is published on the Bus for every session lifecycle change.
type TimerEvent struct {
	Kind      TimerEventKind
	HabitID   string
	SessionID string
	Remaining time.Duration
	Target    time.Duration
	Elapsed   time.Duration
	Overtime  time.Duration
	InBreak   bool
	Message   string // Only set for TimerError
	At        time.Time
}

func (e TimerEvent) String() string {
	switch e.Kind {
	case TimerError:
		return fmt.Sprintf("%s habit=%s session=%s: %s", e.Kind, e.HabitID, e.SessionID, e.Message)
	default:
		return fmt.Sprintf("%s habit=%s session=%s remaining=%s", e.Kind, e.HabitID, e.SessionID, e.Remaining)
	}
}

// ResolvesLoading reports whether the event answers a command sent to the
// controller, as opposed to a periodic update.
func (e TimerEvent) ResolvesLoading() bool {
	switch e.Kind {
	case TimerStarted, TimerPaused, TimerResumed, TimerCompleted, TimerError:
		return true
	}
	return false
}
