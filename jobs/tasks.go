package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAutoClose closes one ticket whose close request deadline passed.
	TaskAutoClose = "ticket:autoclose"
	// TaskAutoCloseSweep closes every overdue ticket the scheduled tasks missed.
	TaskAutoCloseSweep = "ticket:autoclose_sweep"
)

// AutoClosePayload identifies the ticket and the close request that armed the deadline.
type AutoClosePayload struct {
	TicketID       int64  `json:"ticket_id"`
	CloseRequestID string `json:"close_request_id"`
}

// NewAutoCloseTask constructs the per-ticket task.
func NewAutoCloseTask(payload AutoClosePayload) (*asynq.Task, error) {
	if payload.TicketID <= 0 {
		return nil, errors.New("jobs: ticket id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAutoClose, data), nil
}

// AutoCloseTaskID derives the asynq task id so one close request schedules at most one task.
func AutoCloseTaskID(payload AutoClosePayload) string {
	return "autoclose:" + payload.CloseRequestID
}

// AutoCloseSweepPayload bounds one sweep run.
type AutoCloseSweepPayload struct {
	Limit int `json:"limit"`
}

// NewAutoCloseSweepTask constructs the periodic sweep task.
func NewAutoCloseSweepTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(AutoCloseSweepPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAutoCloseSweep, data, asynq.Timeout(2*time.Minute)), nil
}
