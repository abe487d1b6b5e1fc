package ipc

import (
	"habitkeeper/internal/coordinator"
	"habitkeeper/internal/storage"
)

const DefaultSocketPath = "/tmp/habitkeeper.sock"

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// --- Command Argument Structs ---

type IntentArgs struct {
	HabitID              string `json:"habit_id"`
	Intent               string `json:"intent"`
	RequestedDurationSec int    `json:"requested_duration_sec,omitempty"`
	Platform             string `json:"platform,omitempty"`
}

type ConfirmArgs struct {
	HabitID string `json:"habit_id"`
	Choice  string `json:"choice"`
}

// HabitArgs is shared by cancel_confirm and clear_paused.
type HabitArgs struct {
	HabitID string `json:"habit_id"`
}

type ExtendArgs struct {
	HabitID string `json:"habit_id"`
	Minutes int    `json:"minutes"`
}

type SetHabitArgs struct {
	Timing storage.HabitTiming `json:"timing"`
}

// --- Command Names (Constants) ---

const (
	CmdPing          = "ping"
	CmdIntent        = "intent"
	CmdConfirm       = "confirm"
	CmdCancelConfirm = "cancel_confirm"
	CmdExtend        = "extend"
	CmdStatus        = "status"
	CmdEvents        = "events" // Drains the recent UI messages
	CmdSetHabit      = "set_habit"
	CmdClearError    = "clear_error"
	CmdClearPaused   = "clear_paused"
)

// --- Response Data ---

// DecisionData is returned for intent and confirm. Confirm is set when the
// user has to pick one of Choices and send it back with the confirm command.
type DecisionData struct {
	Intent  string       `json:"intent"`
	Outcome string       `json:"outcome"` // execute, confirm or disallow
	Message string       `json:"message,omitempty"`
	Confirm *ConfirmData `json:"confirm,omitempty"`
}

type ConfirmData struct {
	Type    string   `json:"type"`
	Payload int      `json:"payload"`
	Choices []string `json:"choices"`
}

type StatusData struct {
	State coordinator.State `json:"state"`
}

type EventsData struct {
	Events []coordinator.UIEvent `json:"events"`
}
