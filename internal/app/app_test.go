package app

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitkeeper/internal/config"
	"habitkeeper/internal/coordinator"
	"habitkeeper/internal/decision"
	"habitkeeper/internal/event"
	"habitkeeper/internal/ipc"
	"habitkeeper/internal/storage"

	sqlitestore "habitkeeper/internal/storage/sqlite"
)

func newTestApp(t *testing.T) (*App, context.Context) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DatabasePath:   filepath.Join(dir, "test.db"),
		SocketPath:     filepath.Join(dir, "hk.sock"),
		TickIntervalMs: 1000,
		Coordinator:    config.CoordinatorConfig{DebounceMs: 500, WaitingTimeoutMs: 5000, UIBuffer: 16},
		Pomodoro:       config.PomodoroConfig{FocusMinutes: 25, ShortBreakMinutes: 5},
	}
	st := sqlitestore.NewSQLiteStore(cfg.DatabasePath)
	require.NoError(t, st.Init(context.Background()))

	prefs := config.NewPreferences(config.PreferencesConfig{AskToCompleteWithoutTimer: true})
	a := newApp(cfg, prefs, st)

	ctx, cancel := context.WithCancel(context.Background())
	events, unsubscribe := a.bus.Subscribe(64)
	go a.timer.Run(ctx)
	go a.coord.Run(ctx, events)

	t.Cleanup(func() {
		cancel()
		a.timer.Shutdown()
		unsubscribe()
		a.coord.Close()
		assert.NoError(t, st.Close())
	})
	return a, ctx
}

func saveHabit(t *testing.T, a *App, ctx context.Context, h storage.HabitTiming) {
	t.Helper()
	resp := a.processCommand(ctx, ipc.Command{Name: ipc.CmdSetHabit, Args: ipc.SetHabitArgs{Timing: h}})
	require.True(t, resp.Success, resp.Message)
}

func intent(a *App, ctx context.Context, habitID, name string) ipc.Response {
	return a.processCommand(ctx, ipc.Command{Name: ipc.CmdIntent, Args: ipc.IntentArgs{HabitID: habitID, Intent: name}})
}

func TestPingAndUnknown(t *testing.T) {
	a, ctx := newTestApp(t)

	resp := a.processCommand(ctx, ipc.Command{Name: ipc.CmdPing})
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)

	resp = a.processCommand(ctx, ipc.Command{Name: "launch_rockets"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Unknown command")

	resp = intent(a, ctx, "water", "sprint")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "unknown intent")

	resp = intent(a, ctx, "", "done")
	assert.False(t, resp.Success)
}

func TestQuickCompleteOverSocketCommands(t *testing.T) {
	a, ctx := newTestApp(t)
	saveHabit(t, a, ctx, storage.HabitTiming{HabitID: "water", Name: "Drink water"})

	resp := intent(a, ctx, "water", "quick_complete")
	require.True(t, resp.Success, resp.Message)
	data := resp.Data.(ipc.DecisionData)
	assert.Equal(t, "execute", data.Outcome)
	assert.Equal(t, decision.MsgMarkedDone, data.Message)

	again := intent(a, ctx, "water", "quick_complete")
	assert.False(t, again.Success)
	assert.Equal(t, coordinator.MsgInFlight, again.Message)

	assert.Eventually(t, func() bool {
		done, err := a.storage.IsCompletedOn(ctx, "water", time.Now())
		return err == nil && done
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartSecondHabitRefused(t *testing.T) {
	a, ctx := newTestApp(t)
	saveHabit(t, a, ctx, storage.HabitTiming{HabitID: "read", TimerEnabled: true, TargetDurationSec: 1200})
	saveHabit(t, a, ctx, storage.HabitTiming{HabitID: "run", TimerEnabled: true})

	resp := intent(a, ctx, "read", "start")
	require.True(t, resp.Success, resp.Message)

	assert.Eventually(t, func() bool {
		st := a.State()
		return st.TrackedHabitID == "read" && st.Phase == coordinator.PhaseRunning
	}, 2*time.Second, 10*time.Millisecond)

	refused := intent(a, ctx, "run", "start")
	assert.False(t, refused.Success)
	assert.Equal(t, coordinator.MsgFinishRunning, refused.Message)

	status := a.processCommand(ctx, ipc.Command{Name: ipc.CmdStatus})
	require.True(t, status.Success)
	assert.Equal(t, int64(1200*1000), status.Data.(ipc.StatusData).State.TargetMs)

	extended := a.processCommand(ctx, ipc.Command{Name: ipc.CmdExtend, Args: ipc.ExtendArgs{HabitID: "read", Minutes: 5}})
	assert.True(t, extended.Success, extended.Message)
	assert.Equal(t, "Timer extended by 05:00", extended.Message)

	bad := a.processCommand(ctx, ipc.Command{Name: ipc.CmdExtend, Args: ipc.ExtendArgs{HabitID: "read"}})
	assert.False(t, bad.Success)
}

func TestConfirmFlow(t *testing.T) {
	a, ctx := newTestApp(t)
	saveHabit(t, a, ctx, storage.HabitTiming{HabitID: "stretch", TimerEnabled: true})

	resp := intent(a, ctx, "stretch", "done")
	require.True(t, resp.Success, resp.Message)
	data := resp.Data.(ipc.DecisionData)
	require.Equal(t, "confirm", data.Outcome)
	require.NotNil(t, data.Confirm)
	assert.Equal(t, string(decision.ConfirmCompleteWithoutTimer), data.Confirm.Type)
	assert.Equal(t, []string{"complete_without_timer"}, data.Confirm.Choices)

	st := a.State()
	assert.Equal(t, "stretch", st.PendingConfirmHabitID)

	blocked := intent(a, ctx, "stretch", "done")
	assert.Equal(t, coordinator.MsgConfirmPending, blocked.Message)

	confirmed := a.processCommand(ctx, ipc.Command{Name: ipc.CmdConfirm, Args: ipc.ConfirmArgs{HabitID: "stretch", Choice: "complete_without_timer"}})
	require.True(t, confirmed.Success, confirmed.Message)
	assert.Equal(t, "execute", confirmed.Data.(ipc.DecisionData).Outcome)
	assert.Empty(t, a.State().PendingConfirmHabitID)

	bad := a.processCommand(ctx, ipc.Command{Name: ipc.CmdConfirm, Args: ipc.ConfirmArgs{HabitID: "stretch", Choice: "shrug"}})
	assert.False(t, bad.Success)
}

func TestConfirmRequiresMatchingDialog(t *testing.T) {
	a, ctx := newTestApp(t)
	saveHabit(t, a, ctx, storage.HabitTiming{HabitID: "read", TimerEnabled: true, MinDurationSec: 600})

	none := a.processCommand(ctx, ipc.Command{Name: ipc.CmdConfirm, Args: ipc.ConfirmArgs{HabitID: "read", Choice: "complete_anyway"}})
	assert.False(t, none.Success)
	assert.Contains(t, none.Message, coordinator.ErrNoConfirmation.Error())

	a.coord.SetPendingConfirmation("read", decision.ConfirmBelowMinDuration)
	wrong := a.processCommand(ctx, ipc.Command{Name: ipc.CmdConfirm, Args: ipc.ConfirmArgs{HabitID: "read", Choice: "discard"}})
	assert.False(t, wrong.Success)
	assert.Contains(t, wrong.Message, "does not answer")
	assert.Equal(t, "read", a.State().PendingConfirmHabitID)

	other := a.processCommand(ctx, ipc.Command{Name: ipc.CmdConfirm, Args: ipc.ConfirmArgs{HabitID: "run", Choice: "complete_anyway"}})
	assert.False(t, other.Success)
	assert.Equal(t, "read", a.State().PendingConfirmHabitID)
}

func TestCancelConfirmAndClearCommands(t *testing.T) {
	a, ctx := newTestApp(t)
	a.coord.SetPendingConfirmation("stretch", decision.ConfirmBelowMinDuration)

	resp := a.processCommand(ctx, ipc.Command{Name: ipc.CmdCancelConfirm, Args: ipc.HabitArgs{HabitID: "stretch"}})
	assert.True(t, resp.Success)
	assert.Empty(t, a.State().PendingConfirmHabitID)

	a.coord.Seed([]storage.Session{{ID: "s1", HabitID: "read", State: storage.SessionPaused}})
	resp = a.processCommand(ctx, ipc.Command{Name: ipc.CmdClearPaused, Args: ipc.HabitArgs{HabitID: "read"}})
	assert.True(t, resp.Success)
	assert.Empty(t, a.State().PausedHabitIDs)

	resp = a.processCommand(ctx, ipc.Command{Name: ipc.CmdClearError})
	assert.True(t, resp.Success)
}

func TestRecentEventsAreDrained(t *testing.T) {
	a, ctx := newTestApp(t)
	a.rememberUIEvent(coordinator.UIEvent{Kind: coordinator.UISnackbar, Message: "hello"})
	a.rememberUIEvent(coordinator.UIEvent{Kind: coordinator.UICompleted, HabitID: "water", Seconds: 30, At: time.Now()})

	resp := a.processCommand(ctx, ipc.Command{Name: ipc.CmdEvents})
	require.True(t, resp.Success)
	assert.Len(t, resp.Data.(ipc.EventsData).Events, 2)

	resp = a.processCommand(ctx, ipc.Command{Name: ipc.CmdEvents})
	assert.Empty(t, resp.Data.(ipc.EventsData).Events)

	records, err := a.storage.GetEvents(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), event.RecordTypeCompleted)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 30.0, records[0].Value)
}

func TestTelemetryRecord(t *testing.T) {
	r := telemetryRecord(coordinator.Telemetry{
		Kind:    coordinator.TelemetryDisallowed,
		HabitID: "run",
		Intent:  decision.IntentStart,
		Reason:  coordinator.MsgFinishRunning,
	})
	assert.Equal(t, event.RecordTypeDisallowed, r.Type)
	assert.Equal(t, "start", r.Intent)
	assert.Equal(t, coordinator.MsgFinishRunning, r.Notes)
}

func TestSocketRoundTrip(t *testing.T) {
	a, ctx := newTestApp(t)
	require.NoError(t, a.setupSocket())
	done := make(chan error, 1)
	go func() { done <- a.listenForCommands(ctx) }()

	conn, err := net.Dial("unix", a.socketPath)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(conn).Encode(ipc.Command{Name: ipc.CmdPing}))
	var resp ipc.Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	conn.Close()
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)

	// A second daemon must refuse the live socket.
	other := &App{socketPath: a.socketPath}
	assert.Error(t, other.setupSocket())

	require.NoError(t, a.listener.Close())
	assert.NoError(t, <-done)
	a.wg.Wait()
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "05:00", formatDuration(5*time.Minute))
	assert.Equal(t, "1:02:03", formatDuration(time.Hour+2*time.Minute+3*time.Second))
}
