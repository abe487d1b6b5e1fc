package event

import "time"

type RecordType string

const (
	RecordTypeExecuted   RecordType = "executed"
	RecordTypeConfirmed  RecordType = "confirmed"
	RecordTypeDisallowed RecordType = "disallowed"
	RecordTypeCompleted  RecordType = "completed"
	RecordTypeTimerError RecordType = "timer_error"
	RecordTypeAppStart   RecordType = "app_start"
	RecordTypeAppStop    RecordType = "app_stop"
)

// Record is a row of the audit log kept in the events table.
type Record struct {
	ID        int64      `db:"id"`
	Timestamp time.Time  `db:"timestamp"`
	Type      RecordType `db:"type"`
	HabitID   string     `db:"habit_id"`
	Intent    string     `db:"intent"` // Resolved intent for telemetry records
	Tag       string     `db:"tag"`    // Confirm type, platform, ...
	Value     float64    `db:"value"`  // Seconds for completions and partials
	Notes     string     `db:"notes"`  // Refusal reason or error message
}
