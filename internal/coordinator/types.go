package coordinator

import (
	"errors"
	"fmt"
	"time"

	"habitkeeper/internal/decision"
)

const (
	MsgFinishRunning    = "Finish your running habit first!"
	MsgFinishPaused     = "Finish your paused habits first!"
	MsgInFlight         = "Action already in flight"
	MsgConfirmPending   = "Resolve the open confirmation first"
	MsgTimeout          = "The timer didn't respond. Please try again."
	MsgNoSession        = "There is no paused session to resume."
	MsgCompletionPrompt = "Time's up! Mark this habit as done?"
	MsgSaveFailed       = "Couldn't save your progress. Please try again."
	MsgLoadFailed       = "Couldn't load this habit. Please try again."
)

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseLoading  Phase = "loading"
	PhaseRunning  Phase = "running"
	PhasePaused   Phase = "paused"
	PhaseAtTarget Phase = "at_target"
)

// State is a point-in-time copy of the coordinator's cross-habit view.
type State struct {
	TrackedHabitID        string               `json:"tracked_habit_id,omitempty"`
	Phase                 Phase                `json:"phase"`
	RemainingMs           int64                `json:"remaining_ms"`
	TargetMs              int64                `json:"target_ms"`
	IsPaused              bool                 `json:"is_paused"`
	IsLoading             bool                 `json:"is_loading"`
	LastError             string               `json:"last_error,omitempty"`
	AutoPausedHabitID     string               `json:"auto_paused_habit_id,omitempty"`
	AutoPausedRemainingMs int64                `json:"auto_paused_remaining_ms,omitempty"`
	PendingConfirmHabitID string               `json:"pending_confirm_habit_id,omitempty"`
	PendingConfirmType    decision.ConfirmType `json:"pending_confirm_type,omitempty"`
	OvertimeMs            int64                `json:"overtime_ms"`
	PausedHabitIDs        []string             `json:"paused_habit_ids"`
}

type UIEventKind string

const (
	UISnackbar         UIEventKind = "snackbar"
	UIUndo             UIEventKind = "undo"
	UITip              UIEventKind = "tip"
	UIConfirm          UIEventKind = "confirm"
	UICompleted        UIEventKind = "completed"
	UICompletionPrompt UIEventKind = "completion_prompt"
)

// UIEvent is what a front end renders: a message, a dialog or a refresh.
type UIEvent struct {
	Kind        UIEventKind          `json:"kind"`
	HabitID     string               `json:"habit_id,omitempty"`
	Message     string               `json:"message,omitempty"`
	ConfirmType decision.ConfirmType `json:"confirm_type,omitempty"`
	Payload     int                  `json:"payload,omitempty"`
	Seconds     int                  `json:"seconds,omitempty"` // Logged duration of a completion
	At          time.Time            `json:"at"`
}

type TelemetryKind string

const (
	TelemetryExecuted   TelemetryKind = "executed"
	TelemetryConfirmed  TelemetryKind = "confirmed"
	TelemetryDisallowed TelemetryKind = "disallowed"
)

type Telemetry struct {
	Kind        TelemetryKind
	HabitID     string
	Intent      decision.Intent
	ConfirmType decision.ConfirmType
	Reason      string
	At          time.Time
}

// Decision is the result of Coordinator.Decide. Intent is the intent that
// was actually evaluated, which differs from the requested one when a start
// was redirected to a resume.
type Decision struct {
	Intent  decision.Intent
	Outcome decision.Outcome
}

// Request carries caller context for one decision.
type Request struct {
	Platform             decision.Platform
	RequestedDurationSec int
	Override             Override
}

// Override adjusts the decision inputs after the user answered a confirmation.
type Override string

const (
	OverrideNone                 Override = ""
	OverrideIgnoreMinDuration    Override = "ignore_min_duration"
	OverrideSkipPomodoroCheck    Override = "skip_pomodoro_check"
	OverrideDiscardElapsed       Override = "discard_elapsed"
	OverrideLogPartial           Override = "log_partial"
	OverrideCompleteWithoutTimer Override = "complete_without_timer"
)

func (o Override) apply(in *decision.Inputs) {
	switch o {
	case OverrideIgnoreMinDuration:
		in.MinDurationSec = 0
	case OverrideSkipPomodoroCheck:
		in.TimerType = ""
	case OverrideDiscardElapsed:
		in.ElapsedSec = 0
		in.LogPartial = false
	case OverrideLogPartial:
		in.LogPartial = true
	case OverrideCompleteWithoutTimer:
		in.AskToCompleteWithoutTimer = false
	}
}

// Confirmation choices offered to the user, keyed by their wire name.
var choices = map[string]struct {
	intent   decision.Intent
	override Override
}{
	"complete_anyway":        {decision.IntentDone, OverrideIgnoreMinDuration},
	"end_early":              {decision.IntentDone, OverrideSkipPomodoroCheck},
	"complete_without_timer": {decision.IntentDone, OverrideCompleteWithoutTimer},
	"discard":                {decision.IntentStopWithoutComplete, OverrideDiscardElapsed},
	"log_partial":            {decision.IntentStopWithoutComplete, OverrideLogPartial},
}

// ErrNoConfirmation is returned when a choice does not answer the open
// confirmation of a habit.
var ErrNoConfirmation = errors.New("no matching confirmation is open")

// ChoicesFor lists the answers that resolve a confirmation of type t.
// Cancelling is always possible and is not listed.
func ChoicesFor(t decision.ConfirmType) []string {
	switch t {
	case decision.ConfirmBelowMinDuration:
		return []string{"complete_anyway"}
	case decision.ConfirmEndPomodoroEarly:
		return []string{"end_early"}
	case decision.ConfirmDiscardNonZeroSession:
		return []string{"discard", "log_partial"}
	case decision.ConfirmCompleteWithoutTimer:
		return []string{"complete_without_timer"}
	}
	return nil
}

// ParseChoice maps a confirmation answer to the intent to re-submit and the
// override to apply.
func ParseChoice(choice string) (decision.Intent, Override, error) {
	c, ok := choices[choice]
	if !ok {
		return "", OverrideNone, fmt.Errorf("unknown confirmation choice %q", choice)
	}
	return c.intent, c.override, nil
}
