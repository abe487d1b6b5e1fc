// Package timer is the process-local timer controller. A single goroutine
// owns every session; callers talk to it through a command channel and
// observe it through lifecycle events on an event.Bus.
//
// A pomodoro session is one sitting: a focus segment, a single break, then
// overtime until the habit is completed or stopped. Break time is not
// counted as elapsed.
package timer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"habitkeeper/internal/decision"
	"habitkeeper/internal/event"
	"habitkeeper/internal/storage"
)

var (
	ErrNoActiveSession = errors.New("no active timer session")
	ErrSessionNotFound = errors.New("timer session not found")
	ErrStopped         = errors.New("timer controller stopped")
)

// HabitSource supplies the timing configuration used when a session starts.
type HabitSource interface {
	GetHabitTiming(ctx context.Context, habitID string) (*storage.HabitTiming, error)
}

type Options struct {
	TickInterval time.Duration
	DefaultFocus time.Duration // Pomodoro target when the habit has none
	DefaultBreak time.Duration
	Now          func() time.Time
}

type opKind int

const (
	opStart opKind = iota
	opPause
	opResume
	opResumeSession
	opStop
	opComplete
	opExtend
)

type command struct {
	op        opKind
	habitID   string
	sessionID string
	duration  time.Duration
	reply     chan error
}

type liveSession struct {
	storage.Session
	reachedTarget bool
	breakLeft     time.Duration
}

type Controller struct {
	habits   HabitSource
	sessions storage.SessionStore
	bus      *event.Bus
	opts     Options

	cmdChan chan command
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// Owned by the run loop.
	live    map[string]*liveSession
	current string
}

func New(habits HabitSource, sessions storage.SessionStore, bus *event.Bus, opts Options) *Controller {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.DefaultFocus <= 0 {
		opts.DefaultFocus = 25 * time.Minute
	}
	if opts.DefaultBreak < 0 {
		opts.DefaultBreak = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		habits:   habits,
		sessions: sessions,
		bus:      bus,
		opts:     opts,
		cmdChan:  make(chan command),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		live:     make(map[string]*liveSession),
	}
}

// Run restores unfinished sessions (as paused) and processes commands and
// ticks until ctx is cancelled or Stop is called.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer log.Println("Timer controller loop stopped.")

	c.restore(ctx)

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.cancel()
			return ctx.Err()
		case <-c.ctx.Done():
			return nil
		case cmd := <-c.cmdChan:
			cmd.reply <- c.handleCommand(cmd)
		case <-ticker.C:
			c.tick()
		}
	}
}

// Shutdown stops the loop and waits for it to exit.
func (c *Controller) Shutdown() {
	c.cancel()
	<-c.done
}

func (c *Controller) Start(ctx context.Context, habitID string, override time.Duration) error {
	return c.send(ctx, command{op: opStart, habitID: habitID, duration: override})
}

// Pause pauses the habit's running session; an empty habitID means the
// current session.
func (c *Controller) Pause(ctx context.Context, habitID string) error {
	return c.send(ctx, command{op: opPause, habitID: habitID})
}

// Resume resumes the current session.
func (c *Controller) Resume(ctx context.Context) error {
	return c.send(ctx, command{op: opResume})
}

// ResumeSession resumes exactly the given session, pausing any other running one.
func (c *Controller) ResumeSession(ctx context.Context, habitID, sessionID string) error {
	return c.send(ctx, command{op: opResumeSession, habitID: habitID, sessionID: sessionID})
}

func (c *Controller) Stop(ctx context.Context, habitID string) error {
	return c.send(ctx, command{op: opStop, habitID: habitID})
}

func (c *Controller) Complete(ctx context.Context, habitID string) error {
	return c.send(ctx, command{op: opComplete, habitID: habitID})
}

// Extend moves the target of the habit's session by the given duration.
func (c *Controller) Extend(ctx context.Context, habitID string, by time.Duration) error {
	return c.send(ctx, command{op: opExtend, habitID: habitID, duration: by})
}

func (c *Controller) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case c.cmdChan <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrStopped
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

func (c *Controller) restore(ctx context.Context) {
	active, err := c.sessions.ListActiveSessions(ctx)
	if err != nil {
		log.Printf("Warning: could not restore timer sessions: %v", err)
		return
	}
	now := c.opts.Now()
	for _, sess := range active {
		ls := &liveSession{Session: sess}
		if ls.State == storage.SessionRunning {
			c.accumulate(ls, now)
			ls.State = storage.SessionPaused
			c.saveQuietly(ls, now)
		}
		ls.reachedTarget = ls.TargetSec > 0 && ls.Elapsed(now) >= c.target(ls)
		c.live[ls.HabitID] = ls
		c.current = ls.HabitID
		log.Printf("Restored paused session %s for habit %s", ls.ID, ls.HabitID)
	}
}

func (c *Controller) handleCommand(cmd command) error {
	switch cmd.op {
	case opStart:
		return c.start(cmd.habitID, cmd.duration)
	case opPause:
		return c.pause(cmd.habitID)
	case opResume:
		return c.resumeCurrent()
	case opResumeSession:
		return c.resumeSession(cmd.habitID, cmd.sessionID)
	case opStop:
		return c.stop(cmd.habitID)
	case opComplete:
		return c.complete(cmd.habitID)
	case opExtend:
		return c.extend(cmd.habitID, cmd.duration)
	}
	return fmt.Errorf("unknown timer command %d", cmd.op)
}

func (c *Controller) start(habitID string, override time.Duration) error {
	if existing, ok := c.live[habitID]; ok {
		return c.resumeSession(habitID, existing.ID)
	}

	timing, err := c.habits.GetHabitTiming(c.ctx, habitID)
	if err != nil {
		return c.fail(habitID, "", fmt.Errorf("load habit timing: %w", err))
	}
	if timing == nil {
		timing = &storage.HabitTiming{HabitID: habitID}
	}

	now := c.opts.Now()
	ls := &liveSession{Session: storage.Session{
		ID:        uuid.NewString(),
		HabitID:   habitID,
		State:     storage.SessionRunning,
		TimerType: timing.TimerType,
		TargetSec: timing.TargetDurationSec,
		BreakSec:  timing.BreakDurationSec,
		ResumedAt: now,
		StartedAt: now,
	}}
	if override > 0 {
		ls.TargetSec = int(override / time.Second)
	}
	switch {
	case ls.TimerType == decision.TimerTypePomodoro:
		if ls.TargetSec <= 0 {
			ls.TargetSec = int(c.opts.DefaultFocus / time.Second)
		}
		if ls.BreakSec <= 0 {
			ls.BreakSec = int(c.opts.DefaultBreak / time.Second)
		}
	case ls.TimerType == "" && ls.TargetSec > 0:
		ls.TimerType = decision.TimerTypeCountdown
	case ls.TimerType == "":
		ls.TimerType = decision.TimerTypeStopwatch
	}

	c.autoPauseOthers(habitID, now)
	if err := c.save(ls, now); err != nil {
		return c.fail(habitID, ls.ID, err)
	}
	c.live[habitID] = ls
	c.current = habitID

	log.Printf("Timer started for %s (%s, target %ds)", habitID, ls.TimerType, ls.TargetSec)
	c.emit(ls, event.TimerStarted, now)
	return nil
}

func (c *Controller) pause(habitID string) error {
	ls := c.lookup(habitID)
	if ls == nil || ls.State != storage.SessionRunning {
		return c.fail(c.orCurrent(habitID), "", ErrNoActiveSession)
	}
	now := c.opts.Now()
	c.accumulate(ls, now)
	ls.State = storage.SessionPaused
	if err := c.save(ls, now); err != nil {
		return c.fail(ls.HabitID, ls.ID, err)
	}
	c.emit(ls, event.TimerPaused, now)
	return nil
}

func (c *Controller) resumeCurrent() error {
	ls := c.lookup("")
	if ls == nil {
		return c.fail(c.current, "", ErrNoActiveSession)
	}
	return c.resumeSession(ls.HabitID, ls.ID)
}

func (c *Controller) resumeSession(habitID, sessionID string) error {
	ls, ok := c.live[habitID]
	if !ok || (sessionID != "" && ls.ID != sessionID) {
		return c.fail(habitID, sessionID, ErrSessionNotFound)
	}
	now := c.opts.Now()
	if ls.State != storage.SessionRunning {
		c.autoPauseOthers(habitID, now)
		ls.State = storage.SessionRunning
		if !ls.InBreak {
			ls.ResumedAt = now
		}
		if err := c.save(ls, now); err != nil {
			return c.fail(habitID, ls.ID, err)
		}
	}
	c.current = habitID
	c.emit(ls, event.TimerResumed, now)
	return nil
}

// stop ends the session without completing it. No lifecycle event is emitted.
func (c *Controller) stop(habitID string) error {
	ls := c.lookup(habitID)
	if ls == nil {
		return fmt.Errorf("stop %s: %w", c.orCurrent(habitID), ErrNoActiveSession)
	}
	now := c.opts.Now()
	c.accumulate(ls, now)
	ls.State = storage.SessionStopped
	c.forget(ls.HabitID)
	if err := c.save(ls, now); err != nil {
		return c.fail(ls.HabitID, ls.ID, err)
	}
	log.Printf("Timer stopped for %s after %s", ls.HabitID, ls.Elapsed(now).Round(time.Second))
	return nil
}

func (c *Controller) complete(habitID string) error {
	ls := c.lookup(habitID)
	if ls == nil {
		return c.fail(c.orCurrent(habitID), "", ErrNoActiveSession)
	}
	now := c.opts.Now()
	c.accumulate(ls, now)
	ls.State = storage.SessionCompleted
	c.forget(ls.HabitID)
	if err := c.save(ls, now); err != nil {
		return c.fail(ls.HabitID, ls.ID, err)
	}
	c.emit(ls, event.TimerCompleted, now)
	return nil
}

func (c *Controller) extend(habitID string, by time.Duration) error {
	ls := c.lookup(habitID)
	if ls == nil {
		return c.fail(c.orCurrent(habitID), "", ErrNoActiveSession)
	}
	if by <= 0 {
		return fmt.Errorf("extend by %s: duration must be positive", by)
	}
	now := c.opts.Now()
	ls.TargetSec += int(by / time.Second)
	if ls.Elapsed(now) < c.target(ls) {
		ls.reachedTarget = false
		if ls.InBreak {
			c.endBreak(ls, now)
		}
	}
	if err := c.save(ls, now); err != nil {
		return c.fail(ls.HabitID, ls.ID, err)
	}
	c.emit(ls, event.TimerExtended, now)
	return nil
}

func (c *Controller) tick() {
	ls := c.lookup("")
	if ls == nil || ls.State != storage.SessionRunning {
		return
	}
	now := c.opts.Now()
	if ls.TargetSec <= 0 {
		c.emit(ls, event.TimerTick, now)
		return
	}

	if ls.InBreak {
		ls.breakLeft -= c.opts.TickInterval
		if ls.breakLeft > 0 {
			c.emit(ls, event.TimerTick, now)
			return
		}
		c.endBreak(ls, now)
		c.saveQuietly(ls, now)
	}

	if ls.Elapsed(now) < c.target(ls) {
		c.emit(ls, event.TimerTick, now)
		return
	}
	if !ls.reachedTarget {
		ls.reachedTarget = true
		c.emit(ls, event.TimerReachedTarget, now)
		if ls.TimerType == decision.TimerTypePomodoro && ls.BreakSec > 0 {
			c.accumulate(ls, now)
			ls.InBreak = true
			ls.breakLeft = time.Duration(ls.BreakSec) * time.Second
			c.saveQuietly(ls, now)
		}
		return
	}
	c.emit(ls, event.TimerOvertime, now)
}

func (c *Controller) autoPauseOthers(habitID string, now time.Time) {
	for id, other := range c.live {
		if id == habitID || other.State != storage.SessionRunning {
			continue
		}
		c.accumulate(other, now)
		other.State = storage.SessionPaused
		if err := c.save(other, now); err != nil {
			log.Printf("Warning: failed to persist auto-pause of %s: %v", id, err)
		}
		log.Printf("Auto-paused %s to start %s", id, habitID)
		c.emit(other, event.TimerAutoPaused, now)
	}
}

// lookup returns the habit's live session, or the current one for "".
func (c *Controller) lookup(habitID string) *liveSession {
	return c.live[c.orCurrent(habitID)]
}

func (c *Controller) orCurrent(habitID string) string {
	if habitID == "" {
		return c.current
	}
	return habitID
}

func (c *Controller) forget(habitID string) {
	delete(c.live, habitID)
	if c.current != habitID {
		return
	}
	c.current = ""
	var latest time.Time
	for id, ls := range c.live {
		if ls.UpdatedAt.After(latest) || c.current == "" {
			c.current = id
			latest = ls.UpdatedAt
		}
	}
}

func (c *Controller) accumulate(ls *liveSession, now time.Time) {
	if ls.State != storage.SessionRunning {
		return
	}
	ls.AccumulatedSec = ls.Elapsed(now).Seconds()
	ls.ResumedAt = time.Time{}
}

// endBreak returns a session to focus time.
func (c *Controller) endBreak(ls *liveSession, now time.Time) {
	ls.InBreak = false
	ls.breakLeft = 0
	if ls.State == storage.SessionRunning {
		ls.ResumedAt = now
	}
}

func (c *Controller) target(ls *liveSession) time.Duration {
	return time.Duration(ls.TargetSec) * time.Second
}

func (c *Controller) save(ls *liveSession, now time.Time) error {
	ls.UpdatedAt = now
	if err := c.sessions.SaveSession(c.ctx, ls.Session); err != nil {
		return fmt.Errorf("persist session %s: %w", ls.ID, err)
	}
	return nil
}

func (c *Controller) saveQuietly(ls *liveSession, now time.Time) {
	if err := c.save(ls, now); err != nil {
		log.Printf("Warning: %v", err)
	}
}

func (c *Controller) fail(habitID, sessionID string, err error) error {
	log.Printf("Timer error for %s: %v", habitID, err)
	c.bus.Publish(event.TimerEvent{
		Kind:      event.TimerError,
		HabitID:   habitID,
		SessionID: sessionID,
		Message:   err.Error(),
		At:        c.opts.Now(),
	})
	return err
}

func (c *Controller) emit(ls *liveSession, kind event.TimerEventKind, now time.Time) {
	elapsed := ls.Elapsed(now)
	target := c.target(ls)
	ev := event.TimerEvent{
		Kind:      kind,
		HabitID:   ls.HabitID,
		SessionID: ls.ID,
		Target:    target,
		Elapsed:   elapsed,
		InBreak:   ls.InBreak,
		At:        now,
	}
	switch {
	case ls.InBreak:
		ev.Remaining = ls.breakLeft
	case target > 0 && elapsed < target:
		ev.Remaining = target - elapsed
	case target > 0:
		ev.Overtime = elapsed - target
	}
	c.bus.Publish(ev)
}
