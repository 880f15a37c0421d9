package workflows

import (
	"context"
	"testing"

	"github.com/muntrav/bitbrowser-automation/internal/tasks"
)

type stubExecutor struct {
	kind tasks.WorkflowType
}

func (s stubExecutor) Type() tasks.WorkflowType { return s.kind }

func (s stubExecutor) Execute(context.Context, Job) Result {
	return Result{Success: true}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(
		stubExecutor{kind: tasks.WorkflowSetup2FA},
		stubExecutor{kind: tasks.WorkflowBindCard},
	)

	e, err := r.Get(tasks.WorkflowBindCard)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Type() != tasks.WorkflowBindCard {
		t.Fatalf("wrong executor: %s", e.Type())
	}

	if _, err := r.Get(tasks.WorkflowGetLink); err == nil {
		t.Fatal("unregistered workflow must error")
	}
	if got := len(r.Types()); got != 2 {
		t.Fatalf("expected 2 registered types, got %d", got)
	}
}
