package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"habitkeeper/internal/event"
)

// Run feeds timer lifecycle events into the coordinator until ctx is done
// or the channel is closed.
func (c *Coordinator) Run(ctx context.Context, events <-chan event.TimerEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleTimerEvent(ev)
		}
	}
}

func (c *Coordinator) HandleTimerEvent(ev event.TimerEvent) {
	var ui []UIEvent
	completed := false

	c.mu.Lock()
	h := ev.HabitID
	wasLoading := c.state.IsLoading && c.loadingHabit == h
	if ev.ResolvesLoading() {
		c.resolveLoadingLocked(h)
	}
	tracked := c.state.TrackedHabitID == h

	switch ev.Kind {
	case event.TimerStarted:
		c.remainingByHabit[h] = ev.Remaining
		delete(c.pausedByHabit, h)
		if c.state.TrackedHabitID == "" {
			c.trackLocked(h)
			tracked = true
		}
		if tracked {
			c.state.Phase = PhaseRunning
			c.state.IsPaused = false
			c.state.RemainingMs = ev.Remaining.Milliseconds()
			c.state.TargetMs = ev.Target.Milliseconds()
			c.state.OvertimeMs = 0
		}
	case event.TimerTick:
		c.remainingByHabit[h] = ev.Remaining
		if tracked {
			c.state.RemainingMs = ev.Remaining.Milliseconds()
			c.state.OvertimeMs = ev.Overtime.Milliseconds()
		}
	case event.TimerPaused:
		c.remainingByHabit[h] = ev.Remaining
		c.pausedByHabit[h] = true
		if tracked {
			c.state.Phase = PhasePaused
			c.state.IsPaused = true
			c.state.RemainingMs = ev.Remaining.Milliseconds()
		}
	case event.TimerResumed:
		c.remainingByHabit[h] = ev.Remaining
		delete(c.pausedByHabit, h)
		if !tracked && (c.state.TrackedHabitID == "" || c.state.IsPaused) {
			c.trackLocked(h)
			tracked = true
		}
		if tracked {
			c.state.Phase = PhaseRunning
			c.state.IsPaused = false
			c.state.RemainingMs = ev.Remaining.Milliseconds()
			c.state.TargetMs = ev.Target.Milliseconds()
		}
		if c.state.AutoPausedHabitID == h {
			c.state.AutoPausedHabitID = ""
			c.state.AutoPausedRemainingMs = 0
		}
	case event.TimerCompleted:
		c.forgetLocked(h)
		completed = true
		if n := len(c.pausedByHabit); n > 0 {
			ui = append(ui, UIEvent{Kind: UISnackbar, Message: pausedReminder(n), At: ev.At})
		}
	case event.TimerError:
		if tracked || wasLoading {
			c.state.LastError = ev.Message
		}
		if tracked {
			c.untrackLocked()
		}
		ui = append(ui, UIEvent{Kind: UISnackbar, HabitID: h, Message: ev.Message, At: ev.At})
	case event.TimerExtended:
		c.remainingByHabit[h] = ev.Remaining
		if tracked {
			c.state.TargetMs = ev.Target.Milliseconds()
			c.state.RemainingMs = ev.Remaining.Milliseconds()
			if ev.Remaining > 0 {
				c.state.Phase = phaseFor(c.state.IsPaused)
				c.state.OvertimeMs = 0
			}
		}
	case event.TimerReachedTarget:
		c.remainingByHabit[h] = 0
		if tracked {
			c.state.Phase = PhaseAtTarget
			c.state.RemainingMs = 0
		}
		ui = append(ui, UIEvent{Kind: UICompletionPrompt, HabitID: h, Message: MsgCompletionPrompt, At: ev.At})
	case event.TimerOvertime:
		if tracked {
			c.state.OvertimeMs = ev.Overtime.Milliseconds()
		}
	case event.TimerAutoPaused:
		c.remainingByHabit[h] = ev.Remaining
		c.pausedByHabit[h] = true
		c.state.AutoPausedHabitID = h
		c.state.AutoPausedRemainingMs = ev.Remaining.Milliseconds()
		if tracked {
			c.untrackLocked()
		}
	}
	c.refreshPausedLocked()
	c.mu.Unlock()

	for _, u := range ui {
		c.ui.Publish(u)
	}
	if completed {
		c.persist.Go(c.completionWrite(h, int(ev.Elapsed/time.Second), ev.At))
	}
}

func pausedReminder(n int) string {
	if n == 1 {
		return "You have 1 paused habit waiting."
	}
	return fmt.Sprintf("You have %d paused habits waiting.", n)
}

func (c *Coordinator) armWatchdogLocked(habitID string) {
	if c.loadingHabit != "" && c.loadingHabit != habitID {
		delete(c.inFlight, c.loadingHabit)
	}
	c.cancelWatchdogLocked()
	c.loadingHabit = habitID
	gen := c.watchdogGen
	c.watchdog = time.AfterFunc(c.opts.WaitingTimeout, func() {
		c.onWatchdog(gen, habitID)
	})
}

func (c *Coordinator) cancelWatchdogLocked() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.watchdogGen++
	c.loadingHabit = ""
}

func (c *Coordinator) onWatchdog(gen uint64, habitID string) {
	c.mu.Lock()
	if gen != c.watchdogGen || !c.state.IsLoading || c.loadingHabit != habitID {
		c.mu.Unlock()
		return
	}
	c.resolveLoadingLocked(habitID)
	c.state.LastError = MsgTimeout
	c.settleTrackedLocked(habitID)
	c.mu.Unlock()

	log.Printf("Timer did not answer for %s within %s", habitID, c.opts.WaitingTimeout)
	c.ui.Publish(UIEvent{Kind: UISnackbar, HabitID: habitID, Message: MsgTimeout, At: c.opts.Now()})
}

func (c *Coordinator) resolveLoadingLocked(habitID string) {
	if c.loadingHabit == habitID {
		c.cancelWatchdogLocked()
		c.state.IsLoading = false
	}
	delete(c.inFlight, habitID)
}

// settleTrackedLocked leaves the tracked habit in place only if it still
// has a session the coordinator knows about.
func (c *Coordinator) settleTrackedLocked(habitID string) {
	if c.state.TrackedHabitID != habitID {
		return
	}
	if _, known := c.remainingByHabit[habitID]; !known && !c.pausedByHabit[habitID] {
		c.untrackLocked()
		return
	}
	c.state.IsPaused = c.pausedByHabit[habitID]
	c.state.Phase = phaseFor(c.state.IsPaused)
}

func (c *Coordinator) forgetLocked(habitID string) {
	delete(c.remainingByHabit, habitID)
	delete(c.pausedByHabit, habitID)
	if c.state.TrackedHabitID == habitID {
		c.untrackLocked()
	}
	if c.state.AutoPausedHabitID == habitID {
		c.state.AutoPausedHabitID = ""
		c.state.AutoPausedRemainingMs = 0
	}
	c.refreshPausedLocked()
}
