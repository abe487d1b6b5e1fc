package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"habitkeeper/internal/event"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded decisions and completions",
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")
		habitID, _ := cmd.Flags().GetString("habit")
		kinds, _ := cmd.Flags().GetStringSlice("type")

		end := time.Now()
		start := end.AddDate(0, 0, -days)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store := openStore(ctx)
		defer store.Close()

		types := make([]event.RecordType, 0, len(kinds))
		for _, k := range kinds {
			types = append(types, event.RecordType(k))
		}
		records, err := store.GetEvents(ctx, start, end, types...)
		if err != nil {
			log.Fatalf("Failed to fetch events: %v", err)
		}

		bold := color.New(color.Bold)
		tbl := uitable.New()
		tbl.Separator = "  "
		tbl.MaxColWidth = 60
		tbl.Wrap = true
		tbl.AddRow(bold.Sprint("Time"), bold.Sprint("Type"), bold.Sprint("Habit"), bold.Sprint("Intent"), bold.Sprint("Details"))

		shown := 0
		completed := make(map[string]int)
		for _, r := range records {
			if habitID != "" && r.HabitID != habitID {
				continue
			}
			if r.Type == event.RecordTypeCompleted {
				completed[r.HabitID]++
			}
			tbl.AddRow(r.Timestamp.Local().Format("2006-01-02 15:04"), recordColor(r.Type).Sprint(r.Type), r.HabitID, r.Intent, details(r))
			shown++
		}
		if shown == 0 {
			fmt.Println("No history found for the specified period.")
			return
		}
		_, _ = fmt.Fprintln(color.Output, tbl)

		fmt.Println()
		for habit, n := range completed {
			fmt.Printf("%s completed %d time(s) in the last %d days\n", habit, n, days)
		}
	},
}

func details(r event.Record) string {
	switch r.Type {
	case event.RecordTypeCompleted:
		if r.Value > 0 {
			return (time.Duration(r.Value) * time.Second).String()
		}
	case event.RecordTypeConfirmed:
		return r.Tag
	}
	return r.Notes
}

func recordColor(t event.RecordType) *color.Color {
	switch t {
	case event.RecordTypeCompleted, event.RecordTypeExecuted:
		return color.New(color.FgGreen)
	case event.RecordTypeConfirmed:
		return color.New(color.FgYellow)
	case event.RecordTypeDisallowed, event.RecordTypeTimerError:
		return color.New(color.FgRed)
	}
	return color.New(color.Faint)
}

func init() {
	historyCmd.Flags().IntP("days", "d", 7, "Number of past days to include")
	historyCmd.Flags().String("habit", "", "Only show records of this habit")
	historyCmd.Flags().StringSliceP("type", "t", nil, "Record types to include (executed, confirmed, disallowed, completed, timer_error)")
}
