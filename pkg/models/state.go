package models

// TaskState represents the lifecycle state of a crawl task
type TaskState string

const (
	TaskStatePending   TaskState = "pending"   // Waiting in the scheduler (includes retry waits)
	TaskStateRunning   TaskState = "running"   // Claimed by a worker, executor in flight
	TaskStateSucceeded TaskState = "succeeded" // Executor returned a result
	TaskStateFailed    TaskState = "failed"    // Retries exhausted or terminal error
	TaskStateCancelled TaskState = "cancelled" // Cancelled before dispatch
)

// String implements fmt.Stringer for logging
func (s TaskState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsTerminal returns true for states with no outgoing transitions
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed, TaskStateCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal transition.
// Terminal states are absorbing. RUNNING -> PENDING is the retry path only;
// PENDING -> CANCELLED is the only externally initiated transition.
func (s TaskState) CanTransition(next TaskState) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case TaskStatePending:
		return next == TaskStateRunning || next == TaskStateCancelled
	case TaskStateRunning:
		return next == TaskStateSucceeded || next == TaskStateFailed || next == TaskStatePending
	}
	return false
}
