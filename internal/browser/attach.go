package browser

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Attacher connects to browser windows the vendor has already launched,
// over the Chrome DevTools Protocol. Automation never launches its own
// chromium; it always drives a vendor-managed profile.
type Attacher struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	initialized bool
}

func NewAttacher() *Attacher {
	return &Attacher{}
}

// Initialize starts the playwright driver once. Install is skipped when
// the driver is already present.
func (a *Attacher) Initialize() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("install playwright driver: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("start playwright driver: %w", err)
	}

	a.pw = pw
	a.initialized = true
	return nil
}

// Session is one live attachment to a vendor-opened window.
type Session struct {
	browser playwright.Browser
	page    playwright.Page
}

// Attach connects to a window's CDP debug address and returns a session
// bound to its first page, creating one if the window opened blank.
func (a *Attacher) Attach(debugAddress string) (*Session, error) {
	a.mu.Lock()
	pw := a.pw
	initialized := a.initialized
	a.mu.Unlock()

	if !initialized {
		return nil, fmt.Errorf("attacher not initialized")
	}

	endpoint := debugAddress
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	b, err := pw.Chromium.ConnectOverCDP(endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect cdp %s: %w", debugAddress, err)
	}

	contexts := b.Contexts()
	if len(contexts) == 0 {
		b.Close()
		return nil, fmt.Errorf("cdp %s: window has no browser context", debugAddress)
	}

	var page playwright.Page
	if pages := contexts[0].Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = contexts[0].NewPage()
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open page: %w", err)
		}
	}

	return &Session{browser: b, page: page}, nil
}

// Page exposes the attached page for workflow steps.
func (s *Session) Page() playwright.Page {
	return s.page
}

// Navigate loads the url and waits for the load event.
func (s *Session) Navigate(url string) error {
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Detach drops the CDP connection without closing the vendor's window.
func (s *Session) Detach() error {
	return s.browser.Close()
}

// Close stops the playwright driver.
func (a *Attacher) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil
	}
	a.initialized = false
	return a.pw.Stop()
}
