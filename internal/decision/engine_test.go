package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func running(elapsed int) Inputs {
	return Inputs{HabitID: "h1", TimerEnabled: true, TimerState: TimerRunning, ElapsedSec: elapsed}
}

func TestQuickComplete(t *testing.T) {
	t.Run("timer not required", func(t *testing.T) {
		out := Decide(IntentQuickComplete, Inputs{HabitID: "h1"})
		assert.Equal(t, Execute{
			Actions: []Action{
				CompleteToday{HabitID: "h1", PersistDirectly: true},
				ShowUndo{Message: "Marked as done. Undo"},
			},
			Undoable: true,
		}, out)
	})

	t.Run("timer mandatory", func(t *testing.T) {
		out := Decide(IntentQuickComplete, Inputs{HabitID: "h1", TimerEnabled: true, RequireTimerToComplete: true})
		assert.Equal(t, Disallow{Message: "This habit requires using the timer. Tap the timer button to start."}, out)
	})

	t.Run("required flag ignored when timer disabled", func(t *testing.T) {
		out := Decide(IntentQuickComplete, Inputs{HabitID: "h1", RequireTimerToComplete: true})
		assert.IsType(t, Execute{}, out)
	})
}

func TestTimerControlIntents(t *testing.T) {
	assert.Equal(t, Execute{Actions: []Action{StartTimer{HabitID: "h1"}}},
		Decide(IntentStart, Inputs{HabitID: "h1", TimerState: TimerRunning}))
	assert.Equal(t, Execute{Actions: []Action{StartTimer{HabitID: "h1", DurationOverrideSec: 900}}},
		Decide(IntentStart, Inputs{HabitID: "h1", RequestedDurationSec: 900}))
	assert.Equal(t, Execute{Actions: []Action{StartTimer{HabitID: "h1"}}},
		Decide(IntentStart, Inputs{HabitID: "h1", RequestedDurationSec: -5}))
	assert.Equal(t, Execute{Actions: []Action{PauseTimer{HabitID: "h1"}}}, Decide(IntentPause, Inputs{HabitID: "h1"}))
	assert.Equal(t, Execute{Actions: []Action{ResumeTimer{HabitID: "h1"}}}, Decide(IntentResume, Inputs{HabitID: "h1"}))
}

func TestStopWithoutComplete(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want Outcome
	}{
		{
			name: "log partial",
			in:   Inputs{HabitID: "h1", LogPartial: true, ElapsedSec: 45},
			want: Execute{
				Actions:  []Action{SavePartial{HabitID: "h1", DurationSec: 45}, ShowUndo{Message: "Logged as partial. Undo"}},
				Undoable: true,
			},
		},
		{
			name: "log partial clamps negative elapsed",
			in:   Inputs{HabitID: "h1", LogPartial: true, ElapsedSec: -3},
			want: Execute{
				Actions:  []Action{SavePartial{HabitID: "h1", DurationSec: 0}, ShowUndo{Message: MsgLoggedPartial}},
				Undoable: true,
			},
		},
		{
			name: "non zero elapsed asks first",
			in:   Inputs{HabitID: "h1", ElapsedSec: 61},
			want: Confirm{Type: ConfirmDiscardNonZeroSession, Payload: 61},
		},
		{
			name: "zero elapsed discards",
			in:   Inputs{HabitID: "h1", TimerEnabled: true, TimerState: TimerRunning},
			want: Execute{Actions: []Action{DiscardSession{HabitID: "h1"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(IntentStopWithoutComplete, tt.in))
		})
	}
}

func TestDoneWithoutRunningTimer(t *testing.T) {
	t.Run("mandatory timer", func(t *testing.T) {
		in := Inputs{HabitID: "h1", TimerEnabled: true, RequireTimerToComplete: true, TimerState: TimerIdle}
		assert.Equal(t, Disallow{Message: MsgTimerRequired}, Decide(IntentDone, in))
	})
	t.Run("asks before completing without timer", func(t *testing.T) {
		in := Inputs{HabitID: "h1", TimerEnabled: true, TimerState: TimerIdle, AskToCompleteWithoutTimer: true}
		assert.Equal(t, Confirm{Type: ConfirmCompleteWithoutTimer}, Decide(IntentDone, in))
	})
	t.Run("completes directly", func(t *testing.T) {
		in := Inputs{HabitID: "h1", TimerEnabled: true, TimerState: TimerIdle}
		out, ok := Decide(IntentDone, in).(Execute)
		require.True(t, ok)
		assert.Equal(t, CompleteToday{HabitID: "h1", PersistDirectly: true}, out.Actions[0])
	})
	t.Run("timer disabled never asks", func(t *testing.T) {
		in := Inputs{HabitID: "h1", TimerState: TimerRunning, AskToCompleteWithoutTimer: true, MinDurationSec: 600}
		out, ok := Decide(IntentDone, in).(Execute)
		require.True(t, ok)
		assert.Equal(t, CompleteToday{HabitID: "h1", PersistDirectly: true}, out.Actions[0])
	})
}

func TestDoneBelowMinimum(t *testing.T) {
	in := running(300)
	in.MinDurationSec = 600
	assert.Equal(t, Confirm{Type: ConfirmBelowMinDuration, Payload: 600}, Decide(IntentDone, in))

	in.ElapsedSec = 600
	out, ok := Decide(IntentDone, in).(Execute)
	require.True(t, ok, "elapsed equal to the minimum is enough")
	assert.Equal(t, CompleteToday{HabitID: "h1", LogDurationSec: 600}, out.Actions[0])
}

func TestDoneEndPomodoroEarly(t *testing.T) {
	in := running(900)
	in.TimerType = TimerTypePomodoro
	in.TargetDurationSec = 1500
	assert.Equal(t, Confirm{Type: ConfirmEndPomodoroEarly, Payload: 900}, Decide(IntentDone, in))

	in.IsInBreak = true
	assert.IsType(t, Execute{}, Decide(IntentDone, in))

	in.IsInBreak = false
	in.TimerState = TimerPaused
	assert.IsType(t, Execute{}, Decide(IntentDone, in), "paused pomodoro completes without asking")
}

func TestDoneMinimumCheckedBeforePomodoro(t *testing.T) {
	in := running(100)
	in.TimerType = TimerTypePomodoro
	in.TargetDurationSec = 1500
	in.MinDurationSec = 300
	assert.Equal(t, Confirm{Type: ConfirmBelowMinDuration, Payload: 300}, Decide(IntentDone, in))

	in.MinDurationSec = 0
	assert.Equal(t, Confirm{Type: ConfirmEndPomodoroEarly, Payload: 100}, Decide(IntentDone, in))
}

func TestDoneTip(t *testing.T) {
	tests := []struct {
		name    string
		elapsed int
		target  int
		wantTip bool
	}{
		{"under two minutes", 119, 0, true},
		{"two minutes no target", 120, 0, false},
		{"under a fifth of target", 500, 3000, true},
		{"exactly a fifth of target", 600, 3000, false},
		{"past target", 4000, 3000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := running(tt.elapsed)
			in.TargetDurationSec = tt.target
			out, ok := Decide(IntentDone, in).(Execute)
			require.True(t, ok)
			assert.True(t, out.Undoable)
			assert.Equal(t, CompleteToday{HabitID: "h1", LogDurationSec: tt.elapsed}, out.Actions[0])
			assert.Equal(t, ShowUndo{Message: MsgMarkedDone}, out.Actions[1])
			if tt.wantTip {
				require.Len(t, out.Actions, 3)
				assert.IsType(t, ShowTip{}, out.Actions[2])
			} else {
				assert.Len(t, out.Actions, 2)
			}
		})
	}
}

func TestParseIntent(t *testing.T) {
	i, err := ParseIntent("quick_complete")
	require.NoError(t, err)
	assert.Equal(t, IntentQuickComplete, i)

	_, err = ParseIntent("explode")
	assert.Error(t, err)
}
