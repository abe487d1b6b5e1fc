package decision

const (
	MsgTimerRequired    = "This habit requires using the timer. Tap the timer button to start."
	MsgMarkedDone       = "Marked as done. Undo"
	MsgLoggedPartial    = "Logged as partial. Undo"
	MsgSmallProgressTip = "Short sessions still count. Try a slightly longer one next time."
)

const (
	smallProgressSec     = 120
	smallProgressPercent = 20
)

// Decide is deterministic: the same intent and inputs always give the same outcome.
func Decide(intent Intent, in Inputs) Outcome {
	switch intent {
	case IntentQuickComplete:
		return quickComplete(in)
	case IntentStart:
		return Execute{Actions: []Action{StartTimer{HabitID: in.HabitID, DurationOverrideSec: positive(in.RequestedDurationSec)}}}
	case IntentPause:
		return Execute{Actions: []Action{PauseTimer{HabitID: in.HabitID}}}
	case IntentResume:
		return Execute{Actions: []Action{ResumeTimer{HabitID: in.HabitID}}}
	case IntentStopWithoutComplete:
		return stopWithoutComplete(in)
	case IntentDone:
		return done(in)
	}
	return Disallow{Message: "Unsupported action"}
}

func quickComplete(in Inputs) Outcome {
	if in.TimerEnabled && in.RequireTimerToComplete {
		return Disallow{Message: MsgTimerRequired}
	}
	return completeDirectly(in)
}

func stopWithoutComplete(in Inputs) Outcome {
	elapsed := positive(in.ElapsedSec)
	if in.LogPartial {
		return Execute{
			Actions: []Action{
				SavePartial{HabitID: in.HabitID, DurationSec: elapsed},
				ShowUndo{Message: MsgLoggedPartial},
			},
			Undoable: true,
		}
	}
	if elapsed > 0 {
		return Confirm{Type: ConfirmDiscardNonZeroSession, Payload: elapsed}
	}
	return Execute{Actions: []Action{DiscardSession{HabitID: in.HabitID}}}
}

func done(in Inputs) Outcome {
	if !in.TimerEnabled || in.TimerState == TimerIdle || in.TimerState == "" {
		switch {
		case in.TimerEnabled && in.RequireTimerToComplete:
			return Disallow{Message: MsgTimerRequired}
		case in.TimerEnabled && in.AskToCompleteWithoutTimer:
			return Confirm{Type: ConfirmCompleteWithoutTimer}
		}
		return completeDirectly(in)
	}

	if in.MinDurationSec > 0 && in.ElapsedSec < in.MinDurationSec {
		return Confirm{Type: ConfirmBelowMinDuration, Payload: in.MinDurationSec}
	}
	if in.TimerType == TimerTypePomodoro && in.TimerState == TimerRunning && !in.IsInBreak &&
		in.ElapsedSec < in.TargetDurationSec {
		return Confirm{Type: ConfirmEndPomodoroEarly, Payload: in.ElapsedSec}
	}

	elapsed := positive(in.ElapsedSec)
	actions := []Action{
		CompleteToday{HabitID: in.HabitID, LogDurationSec: elapsed},
		ShowUndo{Message: MsgMarkedDone},
	}
	if smallProgress(elapsed, in.TargetDurationSec) {
		actions = append(actions, ShowTip{Message: MsgSmallProgressTip})
	}
	return Execute{Actions: actions, Undoable: true}
}

func completeDirectly(in Inputs) Outcome {
	return Execute{
		Actions: []Action{
			CompleteToday{HabitID: in.HabitID, LogDurationSec: positive(in.ElapsedSec), PersistDirectly: true},
			ShowUndo{Message: MsgMarkedDone},
		},
		Undoable: true,
	}
}

func smallProgress(elapsedSec, targetSec int) bool {
	if elapsedSec < smallProgressSec {
		return true
	}
	return targetSec > 0 && elapsedSec*100 < targetSec*smallProgressPercent
}

func positive(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
