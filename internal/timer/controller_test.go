package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitkeeper/internal/decision"
	"habitkeeper/internal/event"
	"habitkeeper/internal/storage"
)

type memStore struct {
	mu       sync.Mutex
	habits   map[string]storage.HabitTiming
	sessions map[string]storage.Session
	saveErr  error
}

func newMemStore(habits ...storage.HabitTiming) *memStore {
	m := &memStore{habits: map[string]storage.HabitTiming{}, sessions: map[string]storage.Session{}}
	for _, h := range habits {
		m.habits[h.HabitID] = h
	}
	return m
}

func (m *memStore) GetHabitTiming(_ context.Context, id string) (*storage.HabitTiming, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.habits[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *memStore) SaveSession(_ context.Context, s storage.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &s, nil
}

func (m *memStore) ListActiveSessions(context.Context) ([]storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Session
	for _, s := range m.sessions {
		if s.Active() {
			out = append(out, s)
		}
	}
	return out, nil
}

type harness struct {
	c      *Controller
	store  *memStore
	events <-chan event.TimerEvent
	now    time.Time
}

func newHarness(t *testing.T, habits ...storage.HabitTiming) *harness {
	t.Helper()
	h := &harness{store: newMemStore(habits...), now: time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)}
	bus := event.NewBus()
	h.events, _ = bus.Subscribe(64)
	h.c = New(h.store, h.store, bus, Options{
		TickInterval: time.Second,
		DefaultFocus: 25 * time.Minute,
		DefaultBreak: 5 * time.Minute,
		Now:          func() time.Time { return h.now },
	})
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) next(t *testing.T) event.TimerEvent {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	default:
		t.Fatal("expected a timer event")
		return event.TimerEvent{}
	}
}

func (h *harness) drained(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.events:
		t.Fatalf("unexpected event %s", ev)
	default:
	}
}

func TestStartPauseResumeComplete(t *testing.T) {
	h := newHarness(t, storage.HabitTiming{HabitID: "read", TimerEnabled: true, TargetDurationSec: 600})

	require.NoError(t, h.c.start("read", 0))
	ev := h.next(t)
	assert.Equal(t, event.TimerStarted, ev.Kind)
	assert.Equal(t, 10*time.Minute, ev.Target)
	assert.Equal(t, 10*time.Minute, ev.Remaining)
	sess := h.c.live["read"]
	assert.Equal(t, decision.TimerTypeCountdown, sess.TimerType)

	h.advance(2 * time.Minute)
	require.NoError(t, h.c.pause(""))
	ev = h.next(t)
	assert.Equal(t, event.TimerPaused, ev.Kind)
	assert.Equal(t, 8*time.Minute, ev.Remaining)

	h.advance(time.Hour)
	require.NoError(t, h.c.resumeCurrent())
	assert.Equal(t, event.TimerResumed, h.next(t).Kind)

	h.advance(time.Minute)
	require.NoError(t, h.c.complete("read"))
	ev = h.next(t)
	assert.Equal(t, event.TimerCompleted, ev.Kind)
	assert.Equal(t, 3*time.Minute, ev.Elapsed)
	assert.Empty(t, h.c.live)

	stored, err := h.store.GetSession(context.Background(), ev.SessionID)
	require.NoError(t, err)
	assert.Equal(t, storage.SessionCompleted, stored.State)
	assert.InDelta(t, 180, stored.AccumulatedSec, 0.001)
}

func TestStartOverrideAndDefaults(t *testing.T) {
	h := newHarness(t, storage.HabitTiming{HabitID: "focus", TimerType: decision.TimerTypePomodoro})

	require.NoError(t, h.c.start("focus", 0))
	ev := h.next(t)
	assert.Equal(t, 25*time.Minute, ev.Target)
	assert.Equal(t, 300, h.c.live["focus"].BreakSec)
	require.NoError(t, h.c.stop("focus"))

	require.NoError(t, h.c.start("focus", 10*time.Minute))
	assert.Equal(t, 10*time.Minute, h.next(t).Target)
	require.NoError(t, h.c.stop("focus"))

	require.NoError(t, h.c.start("unknown", 0))
	ev = h.next(t)
	assert.Equal(t, event.TimerStarted, ev.Kind)
	assert.Equal(t, decision.TimerTypeStopwatch, h.c.live["unknown"].TimerType)
}

func TestStartAutoPausesRunningSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.start("a", 0))
	h.next(t)

	h.advance(time.Minute)
	require.NoError(t, h.c.start("b", 0))
	ev := h.next(t)
	assert.Equal(t, event.TimerAutoPaused, ev.Kind)
	assert.Equal(t, "a", ev.HabitID)
	assert.Equal(t, event.TimerStarted, h.next(t).Kind)

	assert.Equal(t, storage.SessionPaused, h.c.live["a"].State)
	assert.Equal(t, storage.SessionRunning, h.c.live["b"].State)
	assert.Equal(t, "b", h.c.current)

	require.NoError(t, h.c.start("a", 0), "starting a habit with a session resumes it")
	assert.Equal(t, event.TimerAutoPaused, h.next(t).Kind)
	ev = h.next(t)
	assert.Equal(t, event.TimerResumed, ev.Kind)
	assert.Equal(t, "a", ev.HabitID)
}

func TestResumeSessionTargetsExactSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.start("a", 0))
	require.NoError(t, h.c.pause("a"))
	require.NoError(t, h.c.start("b", 0))
	require.NoError(t, h.c.pause("b"))
	for len(h.events) > 0 {
		<-h.events
	}

	aID := h.c.live["a"].ID
	err := h.c.resumeSession("a", "wrong")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, event.TimerError, h.next(t).Kind)

	require.NoError(t, h.c.resumeSession("a", aID))
	ev := h.next(t)
	assert.Equal(t, event.TimerResumed, ev.Kind)
	assert.Equal(t, aID, ev.SessionID)
	assert.Equal(t, storage.SessionPaused, h.c.live["b"].State)
}

func TestCommandsWithoutSession(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.c.pause(""), ErrNoActiveSession)
	assert.Equal(t, event.TimerError, h.next(t).Kind)
	assert.ErrorIs(t, h.c.complete("x"), ErrNoActiveSession)
	ev := h.next(t)
	assert.Equal(t, event.TimerError, ev.Kind)
	assert.Equal(t, "x", ev.HabitID)
	assert.ErrorIs(t, h.c.stop(""), ErrNoActiveSession)
	h.drained(t)
}

func TestSaveFailureEmitsError(t *testing.T) {
	h := newHarness(t)
	h.store.saveErr = errors.New("disk full")
	err := h.c.start("a", 0)
	require.Error(t, err)
	ev := h.next(t)
	assert.Equal(t, event.TimerError, ev.Kind)
	assert.Contains(t, ev.Message, "disk full")
	assert.Empty(t, h.c.live)
}

func TestTickReachedTargetAndOvertime(t *testing.T) {
	h := newHarness(t, storage.HabitTiming{HabitID: "run", TargetDurationSec: 60})
	require.NoError(t, h.c.start("run", 0))
	h.next(t)

	h.advance(30 * time.Second)
	h.c.tick()
	ev := h.next(t)
	assert.Equal(t, event.TimerTick, ev.Kind)
	assert.Equal(t, 30*time.Second, ev.Remaining)

	h.advance(30 * time.Second)
	h.c.tick()
	assert.Equal(t, event.TimerReachedTarget, h.next(t).Kind)

	h.advance(15 * time.Second)
	h.c.tick()
	ev = h.next(t)
	assert.Equal(t, event.TimerOvertime, ev.Kind)
	assert.Equal(t, 15*time.Second, ev.Overtime)

	require.NoError(t, h.c.extend("run", time.Minute))
	ev = h.next(t)
	assert.Equal(t, event.TimerExtended, ev.Kind)
	assert.Equal(t, 2*time.Minute, ev.Target)
	assert.Equal(t, 45*time.Second, ev.Remaining)
	assert.False(t, h.c.live["run"].reachedTarget)
}

func TestPomodoroBreakSegment(t *testing.T) {
	h := newHarness(t, storage.HabitTiming{HabitID: "deep", TimerType: decision.TimerTypePomodoro, TargetDurationSec: 60, BreakDurationSec: 2})
	h.c.opts.TickInterval = time.Second
	require.NoError(t, h.c.start("deep", 0))
	h.next(t)

	h.advance(time.Minute)
	h.c.tick()
	assert.Equal(t, event.TimerReachedTarget, h.next(t).Kind)
	assert.True(t, h.c.live["deep"].InBreak)

	h.advance(time.Second)
	h.c.tick()
	ev := h.next(t)
	assert.Equal(t, event.TimerTick, ev.Kind)
	assert.True(t, ev.InBreak)
	assert.Equal(t, time.Second, ev.Remaining)

	h.advance(time.Second)
	h.c.tick()
	ev = h.next(t)
	assert.Equal(t, event.TimerOvertime, ev.Kind)
	assert.False(t, ev.InBreak)
	assert.Equal(t, time.Minute, ev.Elapsed)

	h.advance(10 * time.Second)
	h.c.tick()
	ev = h.next(t)
	assert.Equal(t, event.TimerOvertime, ev.Kind)
	assert.Equal(t, 70*time.Second, ev.Elapsed)
	assert.Equal(t, 10*time.Second, ev.Overtime)
}

func TestBreakTimeNotCountedAcrossPause(t *testing.T) {
	h := newHarness(t, storage.HabitTiming{HabitID: "deep", TimerType: decision.TimerTypePomodoro, TargetDurationSec: 60, BreakDurationSec: 30})
	h.c.opts.TickInterval = time.Second
	require.NoError(t, h.c.start("deep", 0))
	h.next(t)

	h.advance(time.Minute)
	h.c.tick()
	require.Equal(t, event.TimerReachedTarget, h.next(t).Kind)

	h.advance(5 * time.Second)
	require.NoError(t, h.c.pause("deep"))
	h.next(t)
	h.advance(time.Minute)
	require.NoError(t, h.c.resumeSession("deep", ""))
	ev := h.next(t)
	assert.Equal(t, event.TimerResumed, ev.Kind)
	assert.True(t, ev.InBreak)
	assert.Equal(t, time.Minute, ev.Elapsed)

	require.NoError(t, h.c.extend("deep", time.Minute))
	h.next(t)
	assert.False(t, h.c.live["deep"].InBreak)
	h.advance(20 * time.Second)
	h.c.tick()
	ev = h.next(t)
	assert.Equal(t, event.TimerTick, ev.Kind)
	assert.Equal(t, 80*time.Second, ev.Elapsed)
	assert.Equal(t, 40*time.Second, ev.Remaining)
}

func TestTickIgnoresPausedSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.start("a", 0))
	require.NoError(t, h.c.pause("a"))
	h.next(t)
	h.next(t)
	h.c.tick()
	h.drained(t)
}

func TestRestorePausesRunningSessions(t *testing.T) {
	h := newHarness(t)
	started := h.now.Add(-time.Minute)
	require.NoError(t, h.store.SaveSession(context.Background(), storage.Session{
		ID: "old", HabitID: "a", State: storage.SessionRunning, ResumedAt: started, StartedAt: started, UpdatedAt: started,
	}))

	h.c.restore(context.Background())
	require.Contains(t, h.c.live, "a")
	assert.Equal(t, storage.SessionPaused, h.c.live["a"].State)
	assert.InDelta(t, 60, h.c.live["a"].AccumulatedSec, 0.001)
	assert.Equal(t, "a", h.c.current)
}

func TestRunLoopRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- h.c.Run(ctx) }()

	require.NoError(t, h.c.Start(ctx, "a", 0))
	require.NoError(t, h.c.Pause(ctx, "a"))
	require.NoError(t, h.c.Resume(ctx))
	require.NoError(t, h.c.Extend(ctx, "a", time.Minute))
	require.NoError(t, h.c.Complete(ctx, ""))
	assert.ErrorIs(t, h.c.Stop(ctx, ""), ErrNoActiveSession)

	h.c.Shutdown()
	assert.NoError(t, <-errCh)
	assert.ErrorIs(t, h.c.Start(ctx, "a", 0), ErrStopped)
}
