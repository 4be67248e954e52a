package tasks

import (
	"encoding/json"
	"time"
)

// Task type names routed through asynq.
const (
	// TypeSessionSweep is the periodic job that ends sessions whose
	// end_time has passed.
	TypeSessionSweep = "session:sweep"
)

// SessionSweepPayload carries when the sweep was scheduled so the
// handler can log queue latency.
type SessionSweepPayload struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// NewSessionSweepTask builds the payload for a sweep task.
func NewSessionSweepTask() ([]byte, error) {
	payload := SessionSweepPayload{ScheduledAt: time.Now()}
	return json.Marshal(payload)
}
