package workflows

import (
	"context"
	"fmt"

	"github.com/muntrav/bitbrowser-automation/internal/settings"
	"github.com/muntrav/bitbrowser-automation/internal/tasks"
)

// Job is everything one workflow execution needs. Log forwards a
// human-readable line to the task's event stream; it must be safe to
// call from the worker goroutine.
type Job struct {
	TaskID        string
	Email         string
	Password      string
	RecoveryEmail string
	SecretKey     string

	WindowID   string
	CloseAfter bool

	Card       settings.CardInfo
	SheerIDKey string

	Log func(level, message string)
}

// Result is a workflow outcome. NewSecret is set when the workflow
// rotated the account's 2FA seed; Link when it obtained a verification
// link. Message is shown to operators on both success and failure.
type Result struct {
	Success   bool
	Message   string
	NewSecret string
	Link      string
}

// Executor runs one workflow type against a window.
type Executor interface {
	Type() tasks.WorkflowType
	Execute(ctx context.Context, job Job) Result
}

// Registry maps workflow types to their executors.
type Registry struct {
	executors map[tasks.WorkflowType]Executor
}

func NewRegistry(execs ...Executor) *Registry {
	r := &Registry{executors: make(map[tasks.WorkflowType]Executor, len(execs))}
	for _, e := range execs {
		r.executors[e.Type()] = e
	}
	return r
}

func (r *Registry) Get(t tasks.WorkflowType) (Executor, error) {
	e, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no executor registered for workflow %q", t)
	}
	return e, nil
}

// Types lists the registered workflow types.
func (r *Registry) Types() []tasks.WorkflowType {
	out := make([]tasks.WorkflowType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	return out
}
