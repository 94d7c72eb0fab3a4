package core

import "time"

// TaskState tracks a single stage attempt through the scheduler.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskDispatched TaskState = "dispatched"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	// TaskRetried marks a failed attempt that was resubmitted as a new attempt.
	TaskRetried TaskState = "retried"
	// TaskDead marks a task whose retry budget is exhausted.
	TaskDead TaskState = "dead"
)

// Task is one attempt to execute a pipeline stage. Tasks are created per
// stage attempt and destroyed after terminal resolution; retries create a
// fresh task with an incremented Attempt.
type Task struct {
	ID         string
	RequestID  string
	Capability Capability
	Priority   int
	Attempt    int
	Deadline   time.Time
	EnqueuedAt time.Time
	State      TaskState
}

// NewTask creates a pending task for one stage attempt.
func NewTask(requestID string, capability Capability, priority, attempt int, deadline time.Time) *Task {
	return &Task{
		ID:         NewID(),
		RequestID:  requestID,
		Capability: capability,
		Priority:   priority,
		Attempt:    attempt,
		Deadline:   deadline,
		State:      TaskPending,
	}
}
