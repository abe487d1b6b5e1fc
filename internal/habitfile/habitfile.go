// Package habitfile reads and writes YAML habit definition files.
package habitfile

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"habitkeeper/internal/decision"
	"habitkeeper/internal/storage"
)

// File is the top-level document:
//
//	habits:
//	  - id: read
//	    name: Read a chapter
//	    timer_enabled: true
//	    min_duration_sec: 600
type File struct {
	Habits []storage.HabitTiming `yaml:"habits"`
}

func Load(path string) ([]storage.HabitTiming, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) ([]storage.HabitTiming, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid habit file: %w", err)
	}
	seen := make(map[string]bool, len(f.Habits))
	for i, h := range f.Habits {
		if err := validate(h); err != nil {
			return nil, fmt.Errorf("habit %d: %w", i+1, err)
		}
		if seen[h.HabitID] {
			return nil, fmt.Errorf("habit %d: duplicate id %q", i+1, h.HabitID)
		}
		seen[h.HabitID] = true
	}
	return f.Habits, nil
}

func validate(h storage.HabitTiming) error {
	if h.HabitID == "" {
		return fmt.Errorf("id is required")
	}
	switch h.TimerType {
	case "", decision.TimerTypeStopwatch, decision.TimerTypeCountdown, decision.TimerTypePomodoro:
	default:
		return fmt.Errorf("%s: unknown timer_type %q", h.HabitID, h.TimerType)
	}
	if h.MinDurationSec < 0 || h.TargetDurationSec < 0 || h.BreakDurationSec < 0 {
		return fmt.Errorf("%s: durations cannot be negative", h.HabitID)
	}
	if h.RequireTimerToComplete && !h.TimerEnabled {
		return fmt.Errorf("%s: require_timer needs timer_enabled", h.HabitID)
	}
	return nil
}

// Save writes habits to path, replacing the file.
func Save(path string, habits []storage.HabitTiming) error {
	data, err := yaml.Marshal(File{Habits: habits})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Import upserts every habit and returns how many were written.
func Import(ctx context.Context, store storage.HabitStore, habits []storage.HabitTiming) (int, error) {
	for i, h := range habits {
		if err := store.SaveHabitTiming(ctx, h); err != nil {
			return i, fmt.Errorf("failed to save habit %s: %w", h.HabitID, err)
		}
	}
	return len(habits), nil
}
