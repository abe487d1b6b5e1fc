// Package coordinator serializes user requests against the decision engine,
// tracks which habit owns the timer and dispatches the resulting actions to
// the timer controller and the stores.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"habitkeeper/internal/decision"
	"habitkeeper/internal/event"
	"habitkeeper/internal/storage"
)

// TimerController is the subset of the timer controller the coordinator drives.
type TimerController interface {
	Start(ctx context.Context, habitID string, override time.Duration) error
	Pause(ctx context.Context, habitID string) error
	ResumeSession(ctx context.Context, habitID, sessionID string) error
	Stop(ctx context.Context, habitID string) error
	Complete(ctx context.Context, habitID string) error
}

type Preferences interface {
	AskToCompleteWithoutTimer() bool
}

type Options struct {
	DebounceWindow  time.Duration
	WaitingTimeout  time.Duration
	UIBuffer        int
	TelemetryBuffer int
	Now             func() time.Time
}

type Coordinator struct {
	timer       TimerController
	timing      storage.TimingStore
	completions storage.CompletionStore
	prefs       Preferences
	opts        Options

	ui        *event.Stream[UIEvent]
	telemetry *event.Stream[Telemetry]

	persist       conc.WaitGroup
	persistCtx    context.Context
	persistCancel context.CancelFunc

	mu               sync.Mutex
	state            State
	remainingByHabit map[string]time.Duration
	pausedByHabit    map[string]bool
	reservations     map[string]decision.Intent
	inFlight         map[string]decision.Intent
	lastActionAt     map[string]time.Time
	loadingHabit     string
	watchdog         *time.Timer
	watchdogGen      uint64
}

func New(timer TimerController, timing storage.TimingStore, completions storage.CompletionStore, prefs Preferences, opts Options) *Coordinator {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 500 * time.Millisecond
	}
	if opts.WaitingTimeout <= 0 {
		opts.WaitingTimeout = 5 * time.Second
	}
	if opts.UIBuffer <= 0 {
		opts.UIBuffer = 16
	}
	if opts.TelemetryBuffer <= 0 {
		opts.TelemetryBuffer = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		timer:            timer,
		timing:           timing,
		completions:      completions,
		prefs:            prefs,
		opts:             opts,
		ui:               event.NewStream[UIEvent](opts.UIBuffer),
		telemetry:        event.NewStream[Telemetry](opts.TelemetryBuffer),
		persistCtx:       ctx,
		persistCancel:    cancel,
		state:            State{Phase: PhaseIdle},
		remainingByHabit: make(map[string]time.Duration),
		pausedByHabit:    make(map[string]bool),
		reservations:     make(map[string]decision.Intent),
		inFlight:         make(map[string]decision.Intent),
		lastActionAt:     make(map[string]time.Time),
	}
}

func (c *Coordinator) UIEvents() <-chan UIEvent {
	return c.ui.C()
}

func (c *Coordinator) Telemetry() <-chan Telemetry {
	return c.telemetry.C()
}

// Seed marks sessions that survived a restart as paused so that the
// single-active-timer rule keeps holding for them.
func (c *Coordinator) Seed(sessions []storage.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.opts.Now()
	for _, s := range sessions {
		if !s.Active() {
			continue
		}
		c.pausedByHabit[s.HabitID] = true
		if s.TargetSec > 0 {
			left := time.Duration(s.TargetSec)*time.Second - s.Elapsed(now)
			if left < 0 {
				left = 0
			}
			c.remainingByHabit[s.HabitID] = left
		}
	}
	c.refreshPausedLocked()
}

// Decide evaluates intent for habitID. Timer-lifecycle intents are
// debounced per habit. An Execute outcome has already been dispatched when
// Decide returns; Confirm and Disallow outcomes are left to the caller.
func (c *Coordinator) Decide(ctx context.Context, intent decision.Intent, habitID string, req Request) (Decision, error) {
	debounced := isDebounced(intent)
	if debounced {
		if msg := c.reserve(intent, habitID); msg != "" {
			log.Printf("Rejected %s for %s: %s", intent, habitID, msg)
			return Decision{Intent: intent, Outcome: decision.Disallow{Message: msg}}, nil
		}
	}

	in, sess, err := c.loadInputs(ctx, habitID, req)
	if err != nil {
		c.mu.Lock()
		delete(c.reservations, habitID)
		c.mu.Unlock()
		log.Printf("Failed to load inputs for %s: %v", habitID, err)
		now := c.opts.Now()
		c.ui.Publish(UIEvent{Kind: UISnackbar, HabitID: habitID, Message: MsgLoadFailed, At: now})
		c.telemetry.Publish(Telemetry{Kind: TelemetryDisallowed, HabitID: habitID, Intent: intent, Reason: MsgLoadFailed, At: now})
		return Decision{Intent: intent}, fmt.Errorf("failed to load inputs for %s: %w", habitID, err)
	}

	resolved := intent
	if intent == decision.IntentStart && sess != nil {
		resolved = decision.IntentResume
	}

	c.mu.Lock()
	if msg := c.admitLocked(resolved, habitID); msg != "" {
		delete(c.reservations, habitID)
		c.mu.Unlock()
		log.Printf("Rejected %s for %s: %s", resolved, habitID, msg)
		return Decision{Intent: resolved, Outcome: decision.Disallow{Message: msg}}, nil
	}

	out := decision.Decide(resolved, in)
	exec, ok := out.(decision.Execute)
	if !ok {
		delete(c.reservations, habitID)
		c.mu.Unlock()
		return Decision{Intent: resolved, Outcome: out}, nil
	}

	delete(c.reservations, habitID)
	if debounced {
		c.lastActionAt[habitID] = c.opts.Now()
	}
	c.inFlight[habitID] = resolved
	switch {
	case resolved == decision.IntentStart || resolved == decision.IntentResume:
		c.trackLocked(habitID)
		// Counts as running from here so no other habit is admitted while
		// the timer answers.
		c.state.IsPaused = false
	case c.state.TrackedHabitID == "" && sess != nil:
		c.trackLocked(habitID)
	}
	c.state.LastError = ""
	c.state.IsLoading = true
	c.armWatchdogLocked(habitID)
	c.mu.Unlock()

	c.dispatch(ctx, habitID, sess, exec.Actions)
	return Decision{Intent: resolved, Outcome: exec}, nil
}

// HandleOutcome turns a decision into user-facing messages and telemetry.
func (c *Coordinator) HandleOutcome(habitID string, d Decision) {
	now := c.opts.Now()
	switch o := d.Outcome.(type) {
	case decision.Execute:
		c.telemetry.Publish(Telemetry{Kind: TelemetryExecuted, HabitID: habitID, Intent: d.Intent, At: now})
	case decision.Confirm:
		c.ui.Publish(UIEvent{Kind: UIConfirm, HabitID: habitID, ConfirmType: o.Type, Payload: o.Payload, At: now})
		c.telemetry.Publish(Telemetry{Kind: TelemetryConfirmed, HabitID: habitID, Intent: d.Intent, ConfirmType: o.Type, At: now})
	case decision.Disallow:
		c.ui.Publish(UIEvent{Kind: UISnackbar, HabitID: habitID, Message: o.Message, At: now})
		c.telemetry.Publish(Telemetry{Kind: TelemetryDisallowed, HabitID: habitID, Intent: d.Intent, Reason: o.Message, At: now})
	}
}

func (c *Coordinator) SetPendingConfirmation(habitID string, t decision.ConfirmType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PendingConfirmHabitID = habitID
	c.state.PendingConfirmType = t
}

// ClearPendingConfirmation clears the open confirmation. An empty habitID
// clears it regardless of which habit it belongs to.
func (c *Coordinator) ClearPendingConfirmation(habitID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if habitID != "" && c.state.PendingConfirmHabitID != habitID {
		return
	}
	c.state.PendingConfirmHabitID = ""
	c.state.PendingConfirmType = ""
}

func (c *Coordinator) ClearPausedHabit(habitID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pausedByHabit, habitID)
	if c.state.AutoPausedHabitID == habitID {
		c.state.AutoPausedHabitID = ""
		c.state.AutoPausedRemainingMs = 0
	}
	c.refreshPausedLocked()
}

func (c *Coordinator) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastError = ""
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.PausedHabitIDs = append([]string(nil), c.state.PausedHabitIDs...)
	return s
}

// Close waits for pending persistence and stops the watchdog.
func (c *Coordinator) Close() {
	if r := c.persist.WaitAndRecover(); r != nil {
		log.Printf("Recovered from panic while persisting: %v", r.Value)
	}
	c.persistCancel()

	c.mu.Lock()
	c.cancelWatchdogLocked()
	c.mu.Unlock()
}

func isDebounced(intent decision.Intent) bool {
	switch intent {
	case decision.IntentStart, decision.IntentPause, decision.IntentResume,
		decision.IntentDone, decision.IntentQuickComplete:
		return true
	}
	return false
}

// reserve claims the per-habit slot for intent, or returns the reason it
// cannot be claimed.
func (c *Coordinator) reserve(intent decision.Intent, habitID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.PendingConfirmHabitID == habitID {
		return MsgConfirmPending
	}
	if c.state.IsLoading && c.loadingHabit == habitID {
		return MsgInFlight
	}
	if _, ok := c.reservations[habitID]; ok {
		return MsgInFlight
	}
	if _, ok := c.inFlight[habitID]; ok {
		return MsgInFlight
	}
	if last, ok := c.lastActionAt[habitID]; ok && c.opts.Now().Sub(last) < c.opts.DebounceWindow {
		return MsgInFlight
	}
	c.reservations[habitID] = intent
	return ""
}

// admitLocked enforces the single-active-timer rule for start and resume.
func (c *Coordinator) admitLocked(intent decision.Intent, habitID string) string {
	if intent != decision.IntentStart && intent != decision.IntentResume {
		return ""
	}
	tracked := c.state.TrackedHabitID
	if tracked != "" && tracked != habitID && !c.state.IsPaused {
		return MsgFinishRunning
	}
	if habitID == tracked || c.pausedByHabit[habitID] {
		return ""
	}
	if tracked != "" || len(c.pausedByHabit) > 0 {
		return MsgFinishPaused
	}
	return ""
}

func (c *Coordinator) loadInputs(ctx context.Context, habitID string, req Request) (decision.Inputs, *storage.Session, error) {
	now := c.opts.Now()
	in := decision.Inputs{
		HabitID:                   habitID,
		TimerState:                decision.TimerIdle,
		Platform:                  req.Platform,
		RequestedDurationSec:      req.RequestedDurationSec,
		AskToCompleteWithoutTimer: c.prefs.AskToCompleteWithoutTimer(),
	}

	timing, err := c.timing.GetHabitTiming(ctx, habitID)
	if err != nil {
		return in, nil, err
	}
	if timing != nil {
		in.TimerEnabled = timing.TimerEnabled
		in.RequireTimerToComplete = timing.RequireTimerToComplete
		in.MinDurationSec = timing.MinDurationSec
		in.TargetDurationSec = timing.TargetDurationSec
		in.TimerType = timing.TimerType
		in.LogPartial = timing.LogPartial
	}

	sess, err := c.timing.GetActiveTimerSession(ctx, habitID)
	if err != nil {
		return in, nil, err
	}
	if sess != nil && !sess.Active() {
		sess = nil
	}
	if sess != nil {
		in.TimerState = decision.TimerRunning
		if sess.State == storage.SessionPaused {
			in.TimerState = decision.TimerPaused
		}
		in.ElapsedSec = int(sess.Elapsed(now) / time.Second)
		in.IsInBreak = sess.InBreak
		if sess.TargetSec > 0 {
			in.TargetDurationSec = sess.TargetSec
		}
		if sess.TimerType != "" {
			in.TimerType = sess.TimerType
		}
	}

	done, err := c.completions.IsCompletedOn(ctx, habitID, now)
	if err != nil {
		return in, nil, err
	}
	in.CompletedToday = done

	req.Override.apply(&in)
	return in, sess, nil
}

func (c *Coordinator) trackLocked(habitID string) {
	if c.state.TrackedHabitID == habitID {
		return
	}
	c.state.TrackedHabitID = habitID
	c.state.Phase = PhaseLoading
	c.state.IsPaused = c.pausedByHabit[habitID]
	c.state.RemainingMs = c.remainingByHabit[habitID].Milliseconds()
	c.state.TargetMs = 0
	c.state.OvertimeMs = 0
}

func (c *Coordinator) untrackLocked() {
	c.state.TrackedHabitID = ""
	c.state.Phase = PhaseIdle
	c.state.IsPaused = false
	c.state.RemainingMs = 0
	c.state.TargetMs = 0
	c.state.OvertimeMs = 0
}

func (c *Coordinator) refreshPausedLocked() {
	ids := make([]string, 0, len(c.pausedByHabit))
	for id := range c.pausedByHabit {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c.state.PausedHabitIDs = ids
}
