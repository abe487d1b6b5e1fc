package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"habitkeeper/internal/coordinator"
	"habitkeeper/internal/decision"
	"habitkeeper/internal/ipc"
)

// intentCommands maps CLI verbs to intents.
var intentCommands = []struct {
	use    string
	short  string
	intent decision.Intent
}{
	{"start <habit>", "Start (or resume) the timer of a habit", decision.IntentStart},
	{"pause <habit>", "Pause the running timer of a habit", decision.IntentPause},
	{"resume <habit>", "Resume a paused habit", decision.IntentResume},
	{"done <habit>", "Complete a habit for today", decision.IntentDone},
	{"stop <habit>", "Stop the timer without completing the habit", decision.IntentStopWithoutComplete},
	{"quick <habit>", "Mark a habit done without using the timer", decision.IntentQuickComplete},
}

func addTimerCommands(root *cobra.Command) {
	for _, ic := range intentCommands {
		intent := ic.intent
		c := &cobra.Command{
			Use:   ic.use,
			Short: ic.short,
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				minutes, _ := cmd.Flags().GetInt("minutes")
				runIntent(args[0], intent, minutes)
			},
		}
		if intent == decision.IntentStart {
			c.Flags().IntP("minutes", "m", 0, "Override the habit's target duration")
		}
		root.AddCommand(c)
	}

	extendCmd.Flags().IntP("minutes", "m", 5, "Minutes to add to the target")
	root.AddCommand(extendCmd)
	root.AddCommand(confirmCmd)
	root.AddCommand(cancelCmd)
	root.AddCommand(statusCmd)
}

func runIntent(habitID string, intent decision.Intent, minutes int) {
	resp := sendCommand(ipc.Command{
		Name: ipc.CmdIntent,
		Args: ipc.IntentArgs{
			HabitID:              habitID,
			Intent:               string(intent),
			RequestedDurationSec: minutes * 60,
			Platform:             string(decision.PlatformCLI),
		},
	})
	printDecision(habitID, resp)
}

func printDecision(habitID string, resp ipc.Response) {
	var data ipc.DecisionData
	decodeData(resp.Data, &data)

	switch data.Outcome {
	case "confirm":
		yellow := color.New(color.FgYellow)
		yellow.Println(confirmQuestion(data.Confirm))
		for _, choice := range data.Confirm.Choices {
			fmt.Printf("  habit-cli confirm %s %s\n", habitID, choice)
		}
		fmt.Printf("  habit-cli cancel %s\n", habitID)
	default:
		if data.Message != "" {
			color.New(color.FgGreen).Println(strings.TrimSuffix(data.Message, " Undo"))
		} else {
			color.New(color.FgGreen).Printf("%s: %s\n", habitID, data.Intent)
		}
	}
}

func confirmQuestion(c *ipc.ConfirmData) string {
	switch decision.ConfirmType(c.Type) {
	case decision.ConfirmBelowMinDuration:
		return fmt.Sprintf("You haven't reached the minimum of %s yet. Complete anyway?", time.Duration(c.Payload)*time.Second)
	case decision.ConfirmEndPomodoroEarly:
		return fmt.Sprintf("Only %s of this pomodoro done. End it early?", time.Duration(c.Payload)*time.Second)
	case decision.ConfirmDiscardNonZeroSession:
		return fmt.Sprintf("Discard %s of tracked time?", time.Duration(c.Payload)*time.Second)
	case decision.ConfirmCompleteWithoutTimer:
		return "Complete without starting the timer?"
	}
	return "Please confirm:"
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <habit> <choice>",
	Short: "Answer an open confirmation",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendCommand(ipc.Command{Name: ipc.CmdConfirm, Args: ipc.ConfirmArgs{HabitID: args[0], Choice: args[1]}})
		printDecision(args[0], resp)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <habit>",
	Short: "Dismiss an open confirmation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printSuccess(sendCommand(ipc.Command{Name: ipc.CmdCancelConfirm, Args: ipc.HabitArgs{HabitID: args[0]}}))
	},
}

var extendCmd = &cobra.Command{
	Use:   "extend <habit>",
	Short: "Add time to a running timer",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		minutes, _ := cmd.Flags().GetInt("minutes")
		printSuccess(sendCommand(ipc.Command{Name: ipc.CmdExtend, Args: ipc.ExtendArgs{HabitID: args[0], Minutes: minutes}}))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the timer state held by the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendCommand(ipc.Command{Name: ipc.CmdStatus})
		var data ipc.StatusData
		decodeData(resp.Data, &data)
		printState(data.State)
	},
}

func printState(s coordinator.State) {
	bold := color.New(color.Bold)
	tbl := uitable.New()
	tbl.Separator = "  "

	tracked := s.TrackedHabitID
	if tracked == "" {
		tracked = "-"
	}
	tbl.AddRow(bold.Sprint("Habit"), tracked)
	tbl.AddRow(bold.Sprint("Phase"), phaseColor(s.Phase).Sprint(s.Phase))
	if s.TargetMs > 0 {
		tbl.AddRow(bold.Sprint("Remaining"), formatMs(s.RemainingMs)+" of "+formatMs(s.TargetMs))
	}
	if s.OvertimeMs > 0 {
		tbl.AddRow(bold.Sprint("Overtime"), formatMs(s.OvertimeMs))
	}
	if s.IsLoading {
		tbl.AddRow(bold.Sprint("Waiting"), "for the timer to answer")
	}
	if len(s.PausedHabitIDs) > 0 {
		tbl.AddRow(bold.Sprint("Paused"), strings.Join(s.PausedHabitIDs, ", "))
	}
	if s.AutoPausedHabitID != "" {
		tbl.AddRow(bold.Sprint("Auto-paused"), fmt.Sprintf("%s (%s left)", s.AutoPausedHabitID, formatMs(s.AutoPausedRemainingMs)))
	}
	if s.PendingConfirmHabitID != "" {
		tbl.AddRow(bold.Sprint("Confirm"), fmt.Sprintf("%s (%s)", s.PendingConfirmHabitID, s.PendingConfirmType))
	}
	if s.LastError != "" {
		tbl.AddRow(bold.Sprint("Error"), color.New(color.FgRed).Sprint(s.LastError))
	}
	_, _ = fmt.Fprintln(color.Output, tbl)
}

func printUIEvents(events []coordinator.UIEvent) {
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 60
	tbl.Wrap = true
	for _, e := range events {
		msg := e.Message
		if e.Kind == coordinator.UIConfirm {
			msg = string(e.ConfirmType)
		}
		tbl.AddRow(e.At.Local().Format("15:04:05"), kindColor(e.Kind).Sprint(e.Kind), e.HabitID, msg)
	}
	_, _ = fmt.Fprintln(color.Output, tbl)
}

func phaseColor(p coordinator.Phase) *color.Color {
	switch p {
	case coordinator.PhaseRunning:
		return color.New(color.FgGreen)
	case coordinator.PhasePaused:
		return color.New(color.FgYellow)
	case coordinator.PhaseAtTarget:
		return color.New(color.FgCyan, color.Bold)
	}
	return color.New(color.Faint)
}

func kindColor(k coordinator.UIEventKind) *color.Color {
	switch k {
	case coordinator.UICompleted:
		return color.New(color.FgGreen)
	case coordinator.UIConfirm, coordinator.UICompletionPrompt:
		return color.New(color.FgYellow)
	case coordinator.UISnackbar:
		return color.New(color.FgHiWhite)
	}
	return color.New(color.Faint)
}

func formatMs(ms int64) string {
	d := (time.Duration(ms) * time.Millisecond).Round(time.Second)
	m := d / time.Minute
	s := (d - m*time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d", m, s)
}
