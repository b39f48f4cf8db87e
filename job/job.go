package job

import (
	"time"

	portal "github.com/huytu0702/university-admission-portal-sub001"
	"github.com/huytu0702/university-admission-portal-sub001/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is eligible for pickup once RunAt passes.
	StateWaiting State = "waiting"
	// StateActive means a worker has claimed the job and is executing it.
	StateActive State = "active"
	// StateCompleted means the job finished successfully. Terminal.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not run again, but was
	// not dead-lettered (DLQ pattern disabled). Terminal.
	StateFailed State = "failed"
	// StateDeadLettered means the job exhausted its attempts (or failed
	// permanently) and was moved to the DLQ. Terminal.
	StateDeadLettered State = "dead_lettered"
)

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateDeadLettered:
		return true
	default:
		return false
	}
}

// Job is a unit of work on a named queue. Attempt counts executions so
// far; a retry puts the same job back to waiting with an incremented
// Attempt and a future RunAt.
type Job struct {
	portal.Entity

	ID          id.JobID      `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}
