package events

import "time"

// Event types pushed to subscribers.
const (
	TypeAccountProgress = "account_progress"
	TypeTaskProgress    = "task_progress"
	TypeLog             = "log"
)

// Log levels carried by TypeLog events.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event is one outbound progress message. The Type field decides which
// of the optional fields are meaningful; everything rides in a single
// flat shape so subscribers can switch on "type" alone.
type Event struct {
	Type string `json:"type"`

	TaskID    string `json:"task_id,omitempty"`
	TaskType  string `json:"task_type,omitempty"`
	Status    string `json:"status,omitempty"`
	Total     int    `json:"total,omitempty"`
	Completed int    `json:"completed,omitempty"`
	Failed    int    `json:"failed,omitempty"`

	Email    string `json:"email,omitempty"`
	Workflow string `json:"current_workflow,omitempty"`

	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`

	Timestamp time.Time `json:"ts"`
}

// AccountProgress builds a per-account progress event.
func AccountProgress(taskID, email, status, workflow, message string, completed, failed, total int) Event {
	return Event{
		Type:      TypeAccountProgress,
		TaskID:    taskID,
		Email:     email,
		Status:    status,
		Workflow:  workflow,
		Message:   message,
		Completed: completed,
		Failed:    failed,
		Total:     total,
		Timestamp: time.Now().UTC(),
	}
}

// TaskProgress builds an overall task progress event.
func TaskProgress(taskID, taskType, status, message string, completed, failed, total int) Event {
	return Event{
		Type:      TypeTaskProgress,
		TaskID:    taskID,
		TaskType:  taskType,
		Status:    status,
		Message:   message,
		Completed: completed,
		Failed:    failed,
		Total:     total,
		Timestamp: time.Now().UTC(),
	}
}

// Log builds a log-line event, optionally scoped to one account.
func Log(taskID, email, level, message string) Event {
	return Event{
		Type:      TypeLog,
		TaskID:    taskID,
		Email:     email,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
