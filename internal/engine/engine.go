package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/muntrav/bitbrowser-automation/internal/accounts"
	"github.com/muntrav/bitbrowser-automation/internal/events"
	"github.com/muntrav/bitbrowser-automation/internal/observability"
	"github.com/muntrav/bitbrowser-automation/internal/settings"
	"github.com/muntrav/bitbrowser-automation/internal/tasks"
	"github.com/muntrav/bitbrowser-automation/internal/windows"
	"github.com/muntrav/bitbrowser-automation/internal/workflows"
)

var (
	ErrNoWorkflows     = errors.New("at least one workflow type is required")
	ErrInvalidWorkflow = errors.New("unknown workflow type")
	ErrNoEmails        = errors.New("at least one account email is required")
)

// WindowManager is the window-lifecycle surface the engine consumes.
type WindowManager interface {
	EnsureWindow(ctx context.Context, email string) (string, error)
	// Close shuts the window at the vendor, best effort.
	Close(ctx context.Context, windowID string)
}

// TaskRequest is one task submission.
type TaskRequest struct {
	Workflows   []tasks.WorkflowType
	Emails      []string
	CloseAfter  bool
	Concurrency int
}

// Options carries the engine's tunables.
type Options struct {
	ConcurrencyMin   int
	ConcurrencyMax   int
	BindCardWaitMax  time.Duration
	BindCardWaitPoll time.Duration
	EventAckTimeout  time.Duration
}

func (o *Options) fillDefaults() {
	if o.ConcurrencyMin <= 0 {
		o.ConcurrencyMin = 1
	}
	if o.ConcurrencyMax < o.ConcurrencyMin {
		o.ConcurrencyMax = 5
	}
	if o.BindCardWaitMax <= 0 {
		o.BindCardWaitMax = 60 * time.Second
	}
	if o.BindCardWaitPoll <= 0 {
		o.BindCardWaitPoll = 2 * time.Second
	}
	if o.EventAckTimeout <= 0 {
		o.EventAckTimeout = events.DefaultAckTimeout
	}
}

// Engine runs submitted tasks: bounded worker pool per task, per-account
// serialization across tasks, progress through the registry and the
// event bridge.
type Engine struct {
	registry  *tasks.Registry
	locker    *tasks.Locker
	store     accounts.Store
	settings  settings.Store
	windows   WindowManager
	workflows *workflows.Registry
	sink      events.Sink
	metrics   *observability.Metrics
	logger    *log.Logger
	opts      Options
}

func New(registry *tasks.Registry, locker *tasks.Locker, store accounts.Store, cfg settings.Store, wm WindowManager, wf *workflows.Registry, sink events.Sink, metrics *observability.Metrics, logger *log.Logger, opts Options) *Engine {
	opts.fillDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		registry:  registry,
		locker:    locker,
		store:     store,
		settings:  cfg,
		windows:   wm,
		workflows: wf,
		sink:      sink,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
	}
}

// Submit validates the request, registers a pending task and starts its
// execution in the background. Returns the new task id.
func (e *Engine) Submit(req TaskRequest) (string, error) {
	if len(req.Workflows) == 0 {
		return "", ErrNoWorkflows
	}
	for _, wf := range req.Workflows {
		if !wf.Valid() {
			return "", fmt.Errorf("%w: %q", ErrInvalidWorkflow, wf)
		}
	}
	emails := dedupeEmails(req.Emails)
	if len(emails) == 0 {
		return "", ErrNoEmails
	}
	req.Emails = emails

	sorted := tasks.SortWorkflows(req.Workflows)
	req.Workflows = sorted
	display := sorted[0]

	taskID := uuid.NewString()[:8]
	e.registry.Register(tasks.TaskProgress{
		TaskID:   taskID,
		TaskType: display,
		Status:   tasks.TaskStatusPending,
		Total:    len(emails),
	})
	if e.metrics != nil {
		e.metrics.TasksSubmitted.WithLabelValues(string(display)).Inc()
	}

	go e.Run(context.Background(), taskID, req)
	return taskID, nil
}

// Run executes one task to completion. Normally called by Submit on its
// own goroutine; exposed for synchronous use in tooling.
func (e *Engine) Run(ctx context.Context, taskID string, req TaskRequest) {
	bridge := events.NewBridge(e.sink, e.opts.EventAckTimeout, e.logger)
	defer bridge.Close()

	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("task aborted: %v", rec)
			e.logger.Printf("engine: task %s panic: %v", taskID, rec)
			e.failTask(taskID, msg, bridge)
		}
	}()

	emails := dedupeEmails(req.Emails)
	sorted := tasks.SortWorkflows(req.Workflows)
	if len(emails) == 0 || len(sorted) == 0 {
		e.failTask(taskID, "nothing to run: no accounts or no workflows", bridge)
		return
	}
	display := sorted[0]

	workers := req.Concurrency
	if workers < e.opts.ConcurrencyMin {
		workers = e.opts.ConcurrencyMin
	}
	if workers > e.opts.ConcurrencyMax {
		workers = e.opts.ConcurrencyMax
	}
	if workers > len(emails) {
		workers = len(emails)
	}

	_ = e.registry.Update(taskID, func(tp *tasks.TaskProgress) {
		if tp.Status.Terminal() {
			return
		}
		tp.Status = tasks.TaskStatusRunning
		tp.Message = "running"
	})
	e.registry.InitAccounts(taskID, emails)
	bridge.Publish(events.TaskProgress(taskID, string(display), string(tasks.TaskStatusRunning), "started", 0, 0, len(emails)))

	orderLine := fmt.Sprintf("task order: %s | concurrency: %d", workflowOrder(sorted), workers)
	e.logger.Printf("engine: task %s %s", taskID, orderLine)
	bridge.Publish(events.Log(taskID, "", events.LevelInfo, orderLine))

	card := settings.Card(ctx, e.settings)
	sheerKey := settings.SheerIDAPIKey(ctx, e.settings)

	var (
		statsMu sync.Mutex
		success int
		failed  int
	)
	snapshot := func() (int, int) {
		statsMu.Lock()
		defer statsMu.Unlock()
		return success, failed
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, email := range emails {
		wg.Add(1)
		go func(email string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if e.metrics != nil {
				e.metrics.ActiveWorkers.Inc()
				defer e.metrics.ActiveWorkers.Dec()
			}

			ok := e.processAccount(ctx, taskID, email, sorted, req.CloseAfter, card, sheerKey, bridge, snapshot)

			statsMu.Lock()
			if ok {
				success++
			} else {
				failed++
			}
			done, failedNow := success+failed, failed
			statsMu.Unlock()

			if e.metrics != nil {
				status := tasks.AccountStatusCompleted
				if !ok {
					status = tasks.AccountStatusFailed
				}
				e.metrics.AccountsFinished.WithLabelValues(string(status)).Inc()
			}
			_ = e.registry.Update(taskID, func(tp *tasks.TaskProgress) {
				tp.Completed = done
			})
			bridge.Publish(events.TaskProgress(taskID, string(display), string(tasks.TaskStatusRunning), "", done-failedNow, failedNow, len(emails)))
		}(email)
	}
	wg.Wait()

	succeeded, failedTotal := snapshot()
	summary := fmt.Sprintf("%d succeeded, %d failed of %d", succeeded, failedTotal, len(emails))
	_ = e.registry.Update(taskID, func(tp *tasks.TaskProgress) {
		tp.Completed = succeeded + failedTotal
		// A task cancelled mid-run is already terminal; keep its status
		// and message instead of reporting a normal completion.
		if tp.Status.Terminal() {
			return
		}
		tp.Status = tasks.TaskStatusCompleted
		tp.Message = summary
	})
	finalStatus, finalMessage := tasks.TaskStatusCompleted, summary
	if tp, err := e.registry.Get(taskID); err == nil {
		finalStatus, finalMessage = tp.Status, tp.Message
	}
	if e.metrics != nil {
		e.metrics.TasksFinished.WithLabelValues(string(finalStatus)).Inc()
	}
	bridge.Publish(events.TaskProgress(taskID, string(display), string(finalStatus), finalMessage, succeeded, failedTotal, len(emails)))
	e.logger.Printf("engine: task %s finished: %s", taskID, finalMessage)
}

// processAccount runs the sorted workflow list for one account. Returns
// true when every workflow succeeded.
func (e *Engine) processAccount(ctx context.Context, taskID, email string, sorted []tasks.WorkflowType, closeAfter bool, card settings.CardInfo, sheerKey string, bridge *events.Bridge, snapshot func() (int, int)) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Printf("engine: account %s panic: %v", email, rec)
			e.failAccount(taskID, email, fmt.Sprintf("internal error: %v", rec), bridge, snapshot)
			ok = false
		}
	}()

	lock := e.locker.For(email)
	lock.Lock()
	defer lock.Unlock()

	prevStatus := e.markAccountRunning(ctx, email)
	defer func() {
		e.settleAccountStatus(ctx, email, prevStatus, ok)
	}()

	// An account that bails out mid-loop never reaches the workflow that
	// carries the close flag, so close its window here.
	var lastWindowID string
	defer func() {
		if !ok && closeAfter && lastWindowID != "" {
			e.windows.Close(ctx, lastWindowID)
		}
	}()

	wantsLink := containsWorkflow(sorted, tasks.WorkflowGetLink)
	linkDone := false

	for i, wf := range sorted {
		label := wf.Label()
		e.registry.UpdateAccount(taskID, email, tasks.AccountStatusRunning, label, "")
		e.publishAccount(taskID, email, tasks.AccountStatusRunning, label, "", bridge, snapshot)

		windowID, err := e.windows.EnsureWindow(ctx, email)
		if err != nil {
			msg := windowFailureMessage(err)
			e.failAccount(taskID, email, msg, bridge, snapshot)
			return false
		}
		lastWindowID = windowID

		// Card binding needs the account confirmed by verification first.
		// A link retrieved earlier in this run counts as confirmed; only
		// when the task queued link retrieval that has not succeeded yet
		// does the engine wait for the store to reflect the confirmation.
		if wf == tasks.WorkflowBindCard && wantsLink && !linkDone {
			if err := e.waitForVerified(ctx, email); err != nil {
				e.failAccount(taskID, email, err.Error(), bridge, snapshot)
				return false
			}
		}

		exec, err := e.workflows.Get(wf)
		if err != nil {
			e.failAccount(taskID, email, err.Error(), bridge, snapshot)
			return false
		}

		last := i == len(sorted)-1
		job := workflows.Job{
			TaskID:     taskID,
			Email:      email,
			WindowID:   windowID,
			CloseAfter: closeAfter && last,
			Card:       card,
			SheerIDKey: sheerKey,
			Log: func(level, message string) {
				bridge.Publish(events.Log(taskID, email, level, message))
			},
		}
		if acct, err := e.store.Get(ctx, email); err == nil {
			job.Password = acct.Password
			job.RecoveryEmail = acct.RecoveryEmail
			job.SecretKey = acct.SecretKey
		}

		start := time.Now()
		res := exec.Execute(ctx, job)
		if e.metrics != nil {
			e.metrics.ObserveWorkflow(string(wf), res.Success, time.Since(start))
		}

		if !res.Success {
			e.recordAccountResult(ctx, email, wf, res)
			e.failAccount(taskID, email, res.Message, bridge, snapshot)
			return false
		}
		e.recordAccountResult(ctx, email, wf, res)
		if wf == tasks.WorkflowGetLink {
			linkDone = true
		}
		bridge.Publish(events.Log(taskID, email, events.LevelInfo, fmt.Sprintf("%s done: %s", label, res.Message)))
	}

	e.registry.UpdateAccount(taskID, email, tasks.AccountStatusCompleted, "", "all workflows completed")
	e.publishAccount(taskID, email, tasks.AccountStatusCompleted, "", "all workflows completed", bridge, snapshot)
	return true
}

// markAccountRunning flips the persisted account status to running for
// the duration of its workflows and returns the status to fall back to.
func (e *Engine) markAccountRunning(ctx context.Context, email string) accounts.Status {
	prev := accounts.StatusPending
	if acct, err := e.store.Get(ctx, email); err == nil && acct.Status != accounts.StatusRunning {
		prev = acct.Status
	}
	e.setAccountStatus(ctx, email, accounts.StatusRunning)
	return prev
}

// settleAccountStatus clears a leftover running status once the account
// finishes. Workflows that dictate a status have already overwritten it;
// anything else falls back to the pre-run status, or error on failure.
func (e *Engine) settleAccountStatus(ctx context.Context, email string, prev accounts.Status, succeeded bool) {
	acct, err := e.store.Get(ctx, email)
	if err != nil || acct.Status != accounts.StatusRunning {
		return
	}
	restore := prev
	if !succeeded {
		restore = accounts.StatusError
	}
	e.setAccountStatus(ctx, email, restore)
}

func (e *Engine) setAccountStatus(ctx context.Context, email string, status accounts.Status) {
	if err := e.store.Upsert(ctx, accounts.Upsert{Email: email, Status: &status}); err != nil {
		e.logger.Printf("engine: set %s status to %s: %v", email, status, err)
	}
}

// recordAccountResult folds a workflow outcome into the persistent
// account record: new 2FA seeds, captured links and status transitions.
func (e *Engine) recordAccountResult(ctx context.Context, email string, wf tasks.WorkflowType, res workflows.Result) {
	up := accounts.Upsert{Email: email}
	if res.Message != "" {
		up.Message = &res.Message
	}

	if !res.Success {
		status := accounts.StatusError
		if strings.Contains(strings.ToLower(res.Message), "not eligible") {
			status = accounts.StatusIneligible
		}
		up.Status = &status
	} else {
		if res.NewSecret != "" {
			up.SecretKey = &res.NewSecret
		}
		if res.Link != "" {
			up.VerificationLink = &res.Link
		}
		switch wf {
		case tasks.WorkflowGetLink:
			status := accounts.StatusLinkReady
			up.Status = &status
		case tasks.WorkflowAgeVerification:
			status := accounts.StatusVerified
			up.Status = &status
		case tasks.WorkflowBindCard:
			status := accounts.StatusSubscribed
			up.Status = &status
		}
	}

	if err := e.store.Upsert(ctx, up); err != nil {
		e.logger.Printf("engine: persist %s result for %s: %v", wf, email, err)
	}
}

// waitForVerified polls the persistent account status until it reaches
// verified or subscribed, bounded by the configured ceiling.
func (e *Engine) waitForVerified(ctx context.Context, email string) error {
	deadline := time.Now().Add(e.opts.BindCardWaitMax)
	lastStatus := accounts.StatusPending

	for {
		acct, err := e.store.Get(ctx, email)
		if err == nil {
			lastStatus = acct.Status
			if lastStatus == accounts.StatusVerified || lastStatus == accounts.StatusSubscribed {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("account not verified before card binding (last status %q)", lastStatus)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.opts.BindCardWaitPoll):
		}
	}
}

func (e *Engine) failAccount(taskID, email, message string, bridge *events.Bridge, snapshot func() (int, int)) {
	e.registry.UpdateAccount(taskID, email, tasks.AccountStatusFailed, "", message)
	e.publishAccount(taskID, email, tasks.AccountStatusFailed, "", message, bridge, snapshot)
}

func (e *Engine) publishAccount(taskID, email string, status tasks.AccountStatus, workflow, message string, bridge *events.Bridge, snapshot func() (int, int)) {
	success, failed := snapshot()
	tp, err := e.registry.Get(taskID)
	total := 0
	if err == nil {
		total = tp.Total
	}
	bridge.Publish(events.AccountProgress(taskID, email, string(status), workflow, message, success, failed, total))
}

func (e *Engine) failTask(taskID, message string, bridge *events.Bridge) {
	var display string
	var total int
	if tp, err := e.registry.Get(taskID); err == nil {
		display = string(tp.TaskType)
		total = tp.Total
	}
	_ = e.registry.Update(taskID, func(tp *tasks.TaskProgress) {
		tp.Status = tasks.TaskStatusFailed
		tp.Message = message
	})
	if e.metrics != nil {
		e.metrics.TasksFinished.WithLabelValues(string(tasks.TaskStatusFailed)).Inc()
	}
	bridge.Publish(events.TaskProgress(taskID, display, string(tasks.TaskStatusFailed), message, 0, 0, total))
}

// windowFailureMessage keeps capacity exhaustion distinguishable from
// generic window failures in operator-facing messages.
func windowFailureMessage(err error) string {
	switch {
	case errors.Is(err, windows.ErrQuotaExhausted):
		return "window quota full, none evictable"
	case errors.Is(err, windows.ErrNoAccount):
		return "no account record, skipping"
	default:
		return "window unavailable: " + err.Error()
	}
}

func dedupeEmails(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		email := accounts.NormalizeEmail(raw)
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}

func containsWorkflow(list []tasks.WorkflowType, want tasks.WorkflowType) bool {
	for _, wf := range list {
		if wf == want {
			return true
		}
	}
	return false
}

func workflowOrder(sorted []tasks.WorkflowType) string {
	names := make([]string, len(sorted))
	for i, wf := range sorted {
		names[i] = string(wf)
	}
	return strings.Join(names, " -> ")
}

// Ensure the concrete window manager satisfies the engine's interface.
var _ WindowManager = (*windows.Manager)(nil)
