package tasks

import "time"

// WorkflowType identifies one discrete automation workflow executed
// against a browser window for a single account.
type WorkflowType string

const (
	WorkflowSetup2FA        WorkflowType = "setup_2fa"
	WorkflowReset2FA        WorkflowType = "reset_2fa"
	WorkflowAgeVerification WorkflowType = "age_verification"
	WorkflowGetLink         WorkflowType = "get_link"
	WorkflowBindCard        WorkflowType = "bind_card"
)

// workflowPriority fixes the execution order within one account's task:
// 2FA flows first, then age verification, then link retrieval, card
// binding always last. Unknown types sort after everything known.
var workflowPriority = map[WorkflowType]int{
	WorkflowSetup2FA:        0,
	WorkflowReset2FA:        0,
	WorkflowAgeVerification: 1,
	WorkflowGetLink:         2,
	WorkflowBindCard:        3,
}

const unknownPriority = 99

// Priority returns the ordering key for a workflow type.
func (w WorkflowType) Priority() int {
	if p, ok := workflowPriority[w]; ok {
		return p
	}
	return unknownPriority
}

// Valid reports whether the workflow type is one of the closed set.
func (w WorkflowType) Valid() bool {
	_, ok := workflowPriority[w]
	return ok
}

// Label returns the human-readable name shown in progress events.
func (w WorkflowType) Label() string {
	switch w {
	case WorkflowSetup2FA:
		return "Set up 2FA"
	case WorkflowReset2FA:
		return "Reset 2FA"
	case WorkflowAgeVerification:
		return "Age verification"
	case WorkflowGetLink:
		return "Get verification link"
	case WorkflowBindCard:
		return "Bind card"
	default:
		return string(w)
	}
}

// SortWorkflows returns the workflow types in fixed priority order,
// ties broken by original request position (stable).
func SortWorkflows(in []WorkflowType) []WorkflowType {
	out := make([]WorkflowType, len(in))
	copy(out, in)
	// Insertion sort keeps the original order of equal-priority entries.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority() < out[j-1].Priority(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

type AccountStatus string

const (
	AccountStatusPending   AccountStatus = "pending"
	AccountStatusRunning   AccountStatus = "running"
	AccountStatusCompleted AccountStatus = "completed"
	AccountStatusFailed    AccountStatus = "failed"
)

func (s AccountStatus) Terminal() bool {
	return s == AccountStatusCompleted || s == AccountStatusFailed
}

// TaskProgress is the live state of one submitted task.
type TaskProgress struct {
	TaskID    string       `json:"task_id"`
	TaskType  WorkflowType `json:"task_type"`
	Status    TaskStatus   `json:"status"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Message   string       `json:"message,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// AccountProgress is the live state of one account within a task.
type AccountProgress struct {
	Email           string        `json:"email"`
	Status          AccountStatus `json:"status"`
	CurrentWorkflow string        `json:"current_workflow,omitempty"`
	Message         string        `json:"message,omitempty"`
}
