package coordinator

import (
	"context"
	"errors"
	"log"
	"time"

	"habitkeeper/internal/decision"
	"habitkeeper/internal/storage"
)

var errNoSession = errors.New(MsgNoSession)

// dispatch runs actions in order. Timer commands are resolved later by the
// matching lifecycle event; everything else resolves loading itself.
func (c *Coordinator) dispatch(ctx context.Context, habitID string, sess *storage.Session, actions []decision.Action) {
	now := c.opts.Now()
	var writes []func()
	defer func() {
		for _, w := range writes {
			c.persist.Go(w)
		}
	}()
	for _, a := range actions {
		switch a := a.(type) {
		case decision.StartTimer:
			override := time.Duration(a.DurationOverrideSec) * time.Second
			if err := c.timer.Start(ctx, a.HabitID, override); err != nil {
				c.failDispatch(a.HabitID, err)
				return
			}
		case decision.PauseTimer:
			if err := c.timer.Pause(ctx, a.HabitID); err != nil {
				c.failDispatch(a.HabitID, err)
				return
			}
		case decision.ResumeTimer:
			if sess == nil {
				c.failDispatch(a.HabitID, errNoSession)
				return
			}
			if err := c.timer.ResumeSession(ctx, a.HabitID, sess.ID); err != nil {
				c.failDispatch(a.HabitID, err)
				return
			}
		case decision.CompleteToday:
			if a.PersistDirectly {
				if sess != nil {
					c.stopQuietly(ctx, a.HabitID)
				}
				c.settle(a.HabitID)
				writes = append(writes, c.completionWrite(a.HabitID, a.LogDurationSec, now))
				continue
			}
			if err := c.timer.Complete(ctx, a.HabitID); err != nil {
				c.failDispatch(a.HabitID, err)
				return
			}
		case decision.SavePartial:
			c.stopQuietly(ctx, a.HabitID)
			c.settle(a.HabitID)
			writes = append(writes, c.partialWrite(a.HabitID, a.DurationSec))
		case decision.DiscardSession:
			c.stopQuietly(ctx, a.HabitID)
			c.settle(a.HabitID)
		case decision.ShowUndo:
			c.ui.Publish(UIEvent{Kind: UIUndo, HabitID: habitID, Message: a.Message, At: now})
		case decision.ShowTip:
			c.ui.Publish(UIEvent{Kind: UITip, HabitID: habitID, Message: a.Message, At: now})
		default:
			log.Printf("Warning: unhandled action %T for %s", a, habitID)
		}
	}
}

func (c *Coordinator) stopQuietly(ctx context.Context, habitID string) {
	if err := c.timer.Stop(ctx, habitID); err != nil {
		log.Printf("Warning: failed to stop timer for %s: %v", habitID, err)
	}
}

// settle resolves loading for an action that does not wait on a lifecycle
// event, and drops the habit's session state.
func (c *Coordinator) settle(habitID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveLoadingLocked(habitID)
	c.forgetLocked(habitID)
}

func (c *Coordinator) failDispatch(habitID string, err error) {
	log.Printf("Failed to dispatch timer action for %s: %v", habitID, err)
	c.mu.Lock()
	stillLoading := c.state.IsLoading && c.loadingHabit == habitID
	delete(c.inFlight, habitID)
	if stillLoading {
		c.resolveLoadingLocked(habitID)
		c.state.LastError = err.Error()
		c.settleTrackedLocked(habitID)
	}
	c.mu.Unlock()
	if stillLoading {
		c.ui.Publish(UIEvent{Kind: UISnackbar, HabitID: habitID, Message: err.Error(), At: c.opts.Now()})
	}
}

// completionWrite returns the asynchronous write for a completion. Writes
// start after the action's own UI events have been published.
func (c *Coordinator) completionWrite(habitID string, seconds int, at time.Time) func() {
	return func() {
		if err := c.completions.MarkHabitAsDone(c.persistCtx, habitID, at); err != nil {
			log.Printf("Failed to save completion for %s: %v", habitID, err)
			c.ui.Publish(UIEvent{Kind: UISnackbar, HabitID: habitID, Message: MsgSaveFailed, At: c.opts.Now()})
			return
		}
		c.ui.Publish(UIEvent{Kind: UICompleted, HabitID: habitID, Seconds: seconds, At: at})
	}
}

func (c *Coordinator) partialWrite(habitID string, seconds int) func() {
	return func() {
		d := time.Duration(seconds) * time.Second
		if _, err := c.timing.LogPartialSession(c.persistCtx, habitID, d, ""); err != nil {
			log.Printf("Failed to save partial session for %s: %v", habitID, err)
			c.ui.Publish(UIEvent{Kind: UISnackbar, HabitID: habitID, Message: MsgSaveFailed, At: c.opts.Now()})
		}
	}
}

func phaseFor(paused bool) Phase {
	if paused {
		return PhasePaused
	}
	return PhaseRunning
}
