package models

import "time"

type Capability string

const (
	CapabilityClassifier Capability = "classifier"
	CapabilityVisualizer Capability = "visualizer"
)

type TaskStatus string

const (
	TaskStatusIdle      TaskStatus = "idle"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is final. A task in a terminal
// state is never restarted; retries construct a new Task.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is one invocation of an external tool, tracked from start to
// its terminal state.
type Task struct {
	ID          int64
	CreatedAt   time.Time
	CompletedAt *time.Time
	Capability  Capability
	Name        string
	Command     []string
	Folder      string
	Status      TaskStatus
	ExitCode    *int
	PID         *int
	Error       string
	Artifacts   []string
	OutputTail  string
}
