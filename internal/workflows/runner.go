package workflows

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/muntrav/bitbrowser-automation/internal/browser"
	"github.com/muntrav/bitbrowser-automation/internal/windows"
)

// Runner opens a managed window through the vendor and attaches an
// automation session to it. Executors share one Runner.
type Runner struct {
	windows  *windows.Manager
	attacher *browser.Attacher
}

func NewRunner(w *windows.Manager, a *browser.Attacher) *Runner {
	return &Runner{windows: w, attacher: a}
}

// WithPage launches the window, attaches over CDP and hands the first
// page to fn. The CDP connection is always detached afterwards; the
// window itself is closed only when closeAfter is set.
func (r *Runner) WithPage(ctx context.Context, windowID string, closeAfter bool, fn func(playwright.Page) error) (err error) {
	open, err := r.windows.Open(ctx, windowID)
	if err != nil {
		return fmt.Errorf("open window %s: %w", windowID, err)
	}

	session, err := r.attacher.Attach(open.DebugAddress)
	if err != nil {
		return fmt.Errorf("attach window %s: %w", windowID, err)
	}
	defer func() {
		if derr := session.Detach(); derr != nil && err == nil {
			err = derr
		}
		if closeAfter {
			r.windows.Close(ctx, windowID)
		}
	}()

	err = fn(session.Page())
	return err
}
