// Package decision maps a user intent plus a snapshot of the habit's timer
// facts to an outcome. It holds no state and performs no side effects.
package decision

import "fmt"

type Intent string

const (
	IntentStart               Intent = "start"
	IntentPause               Intent = "pause"
	IntentResume              Intent = "resume"
	IntentDone                Intent = "done"
	IntentStopWithoutComplete Intent = "stop"
	IntentQuickComplete       Intent = "quick_complete"
)

// ParseIntent accepts the wire names used by the CLI and the socket protocol.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(s); i {
	case IntentStart, IntentPause, IntentResume, IntentDone, IntentStopWithoutComplete, IntentQuickComplete:
		return i, nil
	}
	return "", fmt.Errorf("unknown intent %q", s)
}

type TimerState string

const (
	TimerIdle    TimerState = "idle"
	TimerRunning TimerState = "running"
	TimerPaused  TimerState = "paused"
)

type TimerType string

const (
	TimerTypeStopwatch TimerType = "stopwatch"
	TimerTypeCountdown TimerType = "countdown"
	TimerTypePomodoro  TimerType = "pomodoro"
)

type Platform string

const (
	PlatformCLI    Platform = "cli"
	PlatformWidget Platform = "widget"
	PlatformSocket Platform = "socket"
)

// Inputs is the immutable per-decision snapshot. Durations are whole seconds;
// a zero MinDurationSec or TargetDurationSec means "not configured".
type Inputs struct {
	HabitID                   string
	TimerEnabled              bool
	RequireTimerToComplete    bool
	MinDurationSec            int
	TargetDurationSec         int
	TimerState                TimerState
	ElapsedSec                int
	CompletedToday            bool
	Platform                  Platform
	TimerType                 TimerType
	IsInBreak                 bool
	LogPartial                bool
	RequestedDurationSec      int
	AskToCompleteWithoutTimer bool
}

type ConfirmType string

const (
	ConfirmBelowMinDuration      ConfirmType = "below_min_duration"
	ConfirmDiscardNonZeroSession ConfirmType = "discard_non_zero_session"
	ConfirmEndPomodoroEarly      ConfirmType = "end_pomodoro_early"
	ConfirmCompleteWithoutTimer  ConfirmType = "complete_without_timer"
)

// Outcome is one of Execute, Confirm or Disallow.
type Outcome interface {
	isOutcome()
}

// Execute asks the caller to perform Actions in order.
type Execute struct {
	Actions  []Action
	Undoable bool
}

// Confirm asks the user to resolve an ambiguous request. Payload is a number
// of seconds whose meaning depends on Type.
type Confirm struct {
	Type    ConfirmType
	Payload int
}

type Disallow struct {
	Message string
}

func (Execute) isOutcome()  {}
func (Confirm) isOutcome()  {}
func (Disallow) isOutcome() {}

// Action is one side effect of an Execute outcome.
type Action interface {
	isAction()
}

type StartTimer struct {
	HabitID             string
	DurationOverrideSec int // zero means use the habit's configured duration
}

type PauseTimer struct {
	HabitID string
}

type ResumeTimer struct {
	HabitID string
}

// CompleteToday marks the habit done. With PersistDirectly the completion is
// written immediately; otherwise it is written when the timer controller
// reports the session completed.
type CompleteToday struct {
	HabitID         string
	LogDurationSec  int
	Partial         bool
	PersistDirectly bool
}

type SavePartial struct {
	HabitID     string
	DurationSec int
}

type DiscardSession struct {
	HabitID string
}

type ShowUndo struct {
	Message string
}

type ShowTip struct {
	Message string
}

func (StartTimer) isAction()     {}
func (PauseTimer) isAction()     {}
func (ResumeTimer) isAction()    {}
func (CompleteToday) isAction()  {}
func (SavePartial) isAction()    {}
func (DiscardSession) isAction() {}
func (ShowUndo) isAction()       {}
func (ShowTip) isAction()        {}
