package tasks

import (
	"errors"
	"sync"
	"time"
)

var ErrTaskNotFound = errors.New("task not found")

const defaultRetention = time.Hour

// Registry tracks active and recently finished tasks in memory, together
// with the per-task account-progress tables. One mutex guards everything;
// callers get snapshots, never live pointers.
type Registry struct {
	mu sync.Mutex

	retention time.Duration

	tasks      map[string]*TaskProgress
	timestamps map[string]time.Time
	accounts   map[string]map[string]*AccountProgress
}

func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Registry{
		retention:  retention,
		tasks:      make(map[string]*TaskProgress),
		timestamps: make(map[string]time.Time),
		accounts:   make(map[string]map[string]*AccountProgress),
	}
}

// Register records a new task in pending state.
func (r *Registry) Register(tp TaskProgress) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if tp.CreatedAt.IsZero() {
		tp.CreatedAt = now
	}
	cp := tp
	r.tasks[tp.TaskID] = &cp
	r.timestamps[tp.TaskID] = now
}

// Update applies fn to the stored task under the registry lock.
// Completed/failed tasks are terminal: status changes away from them
// are ignored, completed never exceeds total.
func (r *Registry) Update(taskID string, fn func(*TaskProgress)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tp, ok := r.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	prev := tp.Status
	fn(tp)
	if prev.Terminal() && tp.Status != prev {
		tp.Status = prev
	}
	if tp.Completed > tp.Total {
		tp.Completed = tp.Total
	}
	return nil
}

// Get returns a snapshot of one task.
func (r *Registry) Get(taskID string) (TaskProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tp, ok := r.tasks[taskID]
	if !ok {
		return TaskProgress{}, ErrTaskNotFound
	}
	return *tp, nil
}

// List runs a retention sweep, then returns snapshots of every
// remaining task, newest first.
func (r *Registry) List() []TaskProgress {
	r.Cleanup()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskProgress, 0, len(r.tasks))
	for _, tp := range r.tasks {
		out = append(out, *tp)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.After(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Cancel flips the stored status to failed. Best effort only: in-flight
// workers are not interrupted and run to completion.
func (r *Registry) Cancel(taskID string) (TaskProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tp, ok := r.tasks[taskID]
	if !ok {
		return TaskProgress{}, ErrTaskNotFound
	}
	if !tp.Status.Terminal() {
		tp.Status = TaskStatusFailed
		tp.Message = "cancelled"
	}
	return *tp, nil
}

// Cleanup removes tasks whose progress entry vanished and terminal tasks
// older than the retention window. Returns the number removed.
func (r *Registry) Cleanup() int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var remove []string
	for taskID, ts := range r.timestamps {
		tp, ok := r.tasks[taskID]
		if !ok {
			remove = append(remove, taskID)
			continue
		}
		if tp.Status.Terminal() && now.Sub(ts) > r.retention {
			remove = append(remove, taskID)
		}
	}
	for _, taskID := range remove {
		delete(r.tasks, taskID)
		delete(r.timestamps, taskID)
		delete(r.accounts, taskID)
	}
	return len(remove)
}

// InitAccounts creates the pending account-progress table for a task.
func (r *Registry) InitAccounts(taskID string, emails []string) {
	table := make(map[string]*AccountProgress, len(emails))
	for _, email := range emails {
		table[email] = &AccountProgress{
			Email:  email,
			Status: AccountStatusPending,
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[taskID] = table
}

// UpdateAccount mutates one account's progress within a task. A
// terminal account status is final.
func (r *Registry) UpdateAccount(taskID, email string, status AccountStatus, workflow, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.accounts[taskID]
	if !ok {
		return
	}
	ap, ok := table[email]
	if !ok {
		return
	}
	if ap.Status.Terminal() {
		return
	}
	ap.Status = status
	ap.CurrentWorkflow = workflow
	ap.Message = message
}

// Accounts returns snapshots of a task's account progress.
func (r *Registry) Accounts(taskID string) ([]AccountProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[taskID]; !ok {
		return nil, ErrTaskNotFound
	}
	table := r.accounts[taskID]
	out := make([]AccountProgress, 0, len(table))
	for _, ap := range table {
		out = append(out, *ap)
	}
	return out, nil
}

// ActiveEmails returns every email with a pending or running account
// entry in any live task. The window manager treats their windows as
// not evictable.
func (r *Registry) ActiveEmails() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	for _, table := range r.accounts {
		for email, ap := range table {
			if ap.Status == AccountStatusPending || ap.Status == AccountStatusRunning {
				seen[email] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for email := range seen {
		out = append(out, email)
	}
	return out
}
