package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"habitkeeper/internal/decision"
	"habitkeeper/internal/habitfile"
	"habitkeeper/internal/ipc"
	"habitkeeper/internal/storage"

	sqlitestore "habitkeeper/internal/storage/sqlite"
)

// openStore opens the database directly; used by commands that do not need
// the daemon.
func openStore(ctx context.Context) storage.Storage {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Error: Database file not found at %s. Ensure the habitkeeper daemon has run or specify path with --db.", dbPath)
	} else if err != nil {
		log.Fatalf("Error accessing database file %s: %v", dbPath, err)
	}
	store := sqlitestore.NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		log.Fatalf("Failed to initialize storage connection: %v", err)
	}
	return store
}

var habitsCmd = &cobra.Command{
	Use:   "habits",
	Short: "Manage habit timing settings",
}

var habitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured habits",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store := openStore(ctx)
		defer store.Close()

		habits, err := store.ListHabits(ctx)
		if err != nil {
			log.Fatalf("Failed to list habits: %v", err)
		}
		if len(habits) == 0 {
			fmt.Println("No habits configured. Use 'habit-cli habits import -f habits.yaml'.")
			return
		}

		bold := color.New(color.Bold)
		tbl := uitable.New()
		tbl.Separator = "  "
		tbl.AddRow(bold.Sprint("ID"), bold.Sprint("Name"), bold.Sprint("Timer"), bold.Sprint("Min"), bold.Sprint("Target"), bold.Sprint("Done today"))
		now := time.Now()
		for _, h := range habits {
			done, err := store.IsCompletedOn(ctx, h.HabitID, now)
			if err != nil {
				log.Printf("Warning: could not read completion of %s: %v", h.HabitID, err)
			}
			mark := color.New(color.Faint).Sprint("no")
			if done {
				mark = color.New(color.FgGreen).Sprint("yes")
			}
			tbl.AddRow(h.HabitID, h.Name, timerLabel(h), seconds(h.MinDurationSec), seconds(h.TargetDurationSec), mark)
		}
		_, _ = fmt.Fprintln(color.Output, tbl)
	},
}

func timerLabel(h storage.HabitTiming) string {
	if !h.TimerEnabled {
		return "off"
	}
	label := string(h.TimerType)
	if label == "" {
		label = "on"
	}
	if h.RequireTimerToComplete {
		label += " (required)"
	}
	return label
}

func seconds(s int) string {
	if s <= 0 {
		return "-"
	}
	return (time.Duration(s) * time.Second).String()
}

var habitsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load habits from a YAML file into the database",
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		habits, err := habitfile.Load(file)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", file, err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store := sqlitestore.NewSQLiteStore(dbPath)
		if err := store.Init(ctx); err != nil {
			log.Fatalf("Failed to initialize storage connection: %v", err)
		}
		defer store.Close()

		n, err := habitfile.Import(ctx, store, habits)
		if err != nil {
			log.Fatalf("Imported %d habits before failing: %v", n, err)
		}
		color.New(color.FgGreen).Printf("Imported %d habits from %s\n", n, file)
	},
}

var habitsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the configured habits to a YAML file",
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store := openStore(ctx)
		defer store.Close()

		habits, err := store.ListHabits(ctx)
		if err != nil {
			log.Fatalf("Failed to list habits: %v", err)
		}
		if err := habitfile.Save(file, habits); err != nil {
			log.Fatalf("Failed to write %s: %v", file, err)
		}
		color.New(color.FgGreen).Printf("Exported %d habits to %s\n", len(habits), file)
	},
}

var habitsSetCmd = &cobra.Command{
	Use:   "set <habit>",
	Short: "Create or update a habit through the daemon",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		timerEnabled, _ := flags.GetBool("timer")
		required, _ := flags.GetBool("require-timer")
		timerType, _ := flags.GetString("type")
		minMinutes, _ := flags.GetInt("min")
		targetMinutes, _ := flags.GetInt("target")
		breakMinutes, _ := flags.GetInt("break")
		logPartial, _ := flags.GetBool("log-partial")

		timing := storage.HabitTiming{
			HabitID:                args[0],
			Name:                   name,
			TimerEnabled:           timerEnabled,
			RequireTimerToComplete: required,
			TimerType:              decision.TimerType(timerType),
			MinDurationSec:         minMinutes * 60,
			TargetDurationSec:      targetMinutes * 60,
			BreakDurationSec:       breakMinutes * 60,
			LogPartial:             logPartial,
		}
		if timing.Name == "" {
			timing.Name = args[0]
		}
		printSuccess(sendCommand(ipc.Command{Name: ipc.CmdSetHabit, Args: ipc.SetHabitArgs{Timing: timing}}))
	},
}

func addHabitCommands(root *cobra.Command) {
	habitsImportCmd.Flags().StringP("file", "f", "habits.yaml", "YAML file with habit definitions")
	habitsExportCmd.Flags().StringP("file", "f", "habits.yaml", "Output YAML file")

	f := habitsSetCmd.Flags()
	f.StringP("name", "n", "", "Display name")
	f.Bool("timer", false, "Enable the timer")
	f.Bool("require-timer", false, "Only allow completion through the timer")
	f.StringP("type", "t", "", "Timer type: stopwatch, countdown or pomodoro")
	f.Int("min", 0, "Minimum duration in minutes")
	f.Int("target", 0, "Target duration in minutes")
	f.Int("break", 0, "Pomodoro break in minutes")
	f.Bool("log-partial", false, "Log stopped sessions as partial progress")

	habitsCmd.AddCommand(habitsListCmd, habitsImportCmd, habitsExportCmd, habitsSetCmd)
	root.AddCommand(habitsCmd)
}
