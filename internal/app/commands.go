package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"habitkeeper/internal/coordinator"
	"habitkeeper/internal/decision"
	"habitkeeper/internal/ipc"
)

// processCommand routes the command to the correct handler
func (a *App) processCommand(ctx context.Context, cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdIntent:
		var args ipc.IntentArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return invalidArgs(cmd, err)
		}
		intent, err := decision.ParseIntent(args.Intent)
		if err != nil {
			return ipc.Response{Success: false, Message: err.Error()}
		}
		platform := decision.Platform(args.Platform)
		if platform == "" {
			platform = decision.PlatformSocket
		}
		data, err := a.Intent(ctx, args.HabitID, intent, coordinator.Request{
			Platform:             platform,
			RequestedDurationSec: args.RequestedDurationSec,
		})
		return decisionResponse(data, err)

	case ipc.CmdConfirm:
		var args ipc.ConfirmArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return invalidArgs(cmd, err)
		}
		data, err := a.Confirm(ctx, args.HabitID, args.Choice, decision.PlatformSocket)
		return decisionResponse(data, err)

	case ipc.CmdCancelConfirm:
		var args ipc.HabitArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return invalidArgs(cmd, err)
		}
		a.coord.ClearPendingConfirmation(args.HabitID)
		return ipc.Response{Success: true, Message: "Confirmation cancelled"}

	case ipc.CmdExtend:
		var args ipc.ExtendArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return invalidArgs(cmd, err)
		}
		if args.Minutes <= 0 {
			return ipc.Response{Success: false, Message: "Minutes must be positive"}
		}
		by := time.Duration(args.Minutes) * time.Minute
		if err := a.timer.Extend(ctx, args.HabitID, by); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to extend timer: %v", err)}
		}
		return ipc.Response{Success: true, Message: fmt.Sprintf("Timer extended by %s", formatDuration(by))}

	case ipc.CmdStatus:
		return ipc.Response{Success: true, Data: ipc.StatusData{State: a.coord.State()}}

	case ipc.CmdEvents:
		return ipc.Response{Success: true, Data: ipc.EventsData{Events: a.drainRecent()}}

	case ipc.CmdSetHabit:
		var args ipc.SetHabitArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return invalidArgs(cmd, err)
		}
		if args.Timing.HabitID == "" {
			return ipc.Response{Success: false, Message: "Habit id cannot be empty"}
		}
		if err := a.storage.SaveHabitTiming(ctx, args.Timing); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to save habit: %v", err)}
		}
		return ipc.Response{Success: true, Message: fmt.Sprintf("Habit '%s' saved", args.Timing.HabitID)}

	case ipc.CmdClearError:
		a.coord.ClearError()
		return ipc.Response{Success: true, Message: "Error cleared"}

	case ipc.CmdClearPaused:
		var args ipc.HabitArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return invalidArgs(cmd, err)
		}
		a.coord.ClearPausedHabit(args.HabitID)
		return ipc.Response{Success: true, Message: fmt.Sprintf("Paused habit '%s' cleared", args.HabitID)}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}

// Intent runs one decision through the coordinator and publishes its
// outcome. A Confirm outcome opens a pending confirmation for the habit.
func (a *App) Intent(ctx context.Context, habitID string, intent decision.Intent, req coordinator.Request) (ipc.DecisionData, error) {
	if habitID == "" {
		return ipc.DecisionData{}, errors.New("habit id cannot be empty")
	}
	d, err := a.coord.Decide(ctx, intent, habitID, req)
	if err != nil {
		return ipc.DecisionData{}, err
	}
	a.coord.HandleOutcome(habitID, d)
	if c, ok := d.Outcome.(decision.Confirm); ok {
		a.coord.SetPendingConfirmation(habitID, c.Type)
	}
	return decisionData(d), nil
}

// Confirm resolves the habit's pending confirmation with choice.
func (a *App) Confirm(ctx context.Context, habitID, choice string, platform decision.Platform) (ipc.DecisionData, error) {
	intent, override, err := coordinator.ParseChoice(choice)
	if err != nil {
		return ipc.DecisionData{}, err
	}
	st := a.coord.State()
	if st.PendingConfirmHabitID != habitID || habitID == "" {
		return ipc.DecisionData{}, fmt.Errorf("%w for %q", coordinator.ErrNoConfirmation, habitID)
	}
	if !slices.Contains(coordinator.ChoicesFor(st.PendingConfirmType), choice) {
		return ipc.DecisionData{}, fmt.Errorf("%w: %q does not answer a %s confirmation", coordinator.ErrNoConfirmation, choice, st.PendingConfirmType)
	}
	a.coord.ClearPendingConfirmation(habitID)
	return a.Intent(ctx, habitID, intent, coordinator.Request{Platform: platform, Override: override})
}

func (a *App) State() coordinator.State {
	return a.coord.State()
}

func decisionData(d coordinator.Decision) ipc.DecisionData {
	data := ipc.DecisionData{Intent: string(d.Intent)}
	switch o := d.Outcome.(type) {
	case decision.Execute:
		data.Outcome = "execute"
		for _, act := range o.Actions {
			if u, ok := act.(decision.ShowUndo); ok {
				data.Message = u.Message
			}
		}
	case decision.Confirm:
		data.Outcome = "confirm"
		data.Confirm = &ipc.ConfirmData{
			Type:    string(o.Type),
			Payload: o.Payload,
			Choices: coordinator.ChoicesFor(o.Type),
		}
	case decision.Disallow:
		data.Outcome = "disallow"
		data.Message = o.Message
	}
	return data
}

func decisionResponse(data ipc.DecisionData, err error) ipc.Response {
	if err != nil {
		return ipc.Response{Success: false, Message: err.Error()}
	}
	return ipc.Response{Success: data.Outcome != "disallow", Message: data.Message, Data: data}
}

func invalidArgs(cmd ipc.Command, err error) ipc.Response {
	return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
}

// Helper function to convert map[string]interface{} (from json unmarshal) to struct
func mapToStruct(input interface{}, output interface{}) error {
	if input == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal args map: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, output); err != nil {
		return fmt.Errorf("failed to unmarshal args into struct: %w", err)
	}
	return nil
}
