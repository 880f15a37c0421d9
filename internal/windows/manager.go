package windows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/muntrav/bitbrowser-automation/internal/accounts"
	"github.com/muntrav/bitbrowser-automation/internal/bitapi"
	"github.com/muntrav/bitbrowser-automation/internal/observability"
	"github.com/muntrav/bitbrowser-automation/internal/settings"
)

var (
	// ErrNoAccount means the persistent store has no record for the email.
	ErrNoAccount = errors.New("account not found")
	// ErrQuotaExhausted means the fleet is at quota and every window is
	// bound to an account with live work, so nothing can be evicted.
	ErrQuotaExhausted = errors.New("window quota full, none evictable")
	// ErrDuplicateWindow means another window is already bound to the
	// account, so creating a second one was refused.
	ErrDuplicateWindow = errors.New("account already has a window")
)

// ActiveFunc reports the normalized emails that currently have pending
// or running work in any live task.
type ActiveFunc func() map[string]bool

// Manager owns the window fleet: it reuses an account's bound window
// when it is still valid, repairs stale bindings, evicts the oldest
// inactive window when the fleet is at quota, and clones new windows
// from a template.
//
// The whole ensure path runs under one coarse mutex so two workers
// cannot race the quota check, both evict, and both create into the
// same capacity slot.
type Manager struct {
	mu sync.Mutex

	vendor   bitapi.Vendor
	store    accounts.Store
	settings settings.Store
	active   ActiveFunc

	deviceClass  bitapi.DeviceClass
	defaultQuota int
	metrics      *observability.Metrics
	logger       *log.Logger
}

func NewManager(vendor bitapi.Vendor, store accounts.Store, cfg settings.Store, active ActiveFunc, deviceClass bitapi.DeviceClass, defaultQuota int, metrics *observability.Metrics, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	if active == nil {
		active = func() map[string]bool { return nil }
	}
	return &Manager{
		vendor:       vendor,
		store:        store,
		settings:     cfg,
		active:       active,
		deviceClass:  deviceClass,
		defaultQuota: defaultQuota,
		metrics:      metrics,
		logger:       logger,
	}
}

func (m *Manager) countOp(op string) {
	if m.metrics != nil {
		m.metrics.WindowOps.WithLabelValues(op).Inc()
	}
}

// EnsureWindow returns the id of a window bound to the account, reusing
// the persisted binding when it still points at a live, matching window
// of the required device class and creating a fresh one otherwise.
func (m *Manager) EnsureWindow(ctx context.Context, email string) (string, error) {
	email = accounts.NormalizeEmail(email)

	acct, err := m.store.Get(ctx, email)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return "", ErrNoAccount
		}
		return "", fmt.Errorf("load account %s: %w", email, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if acct.WindowID != "" {
		if id, ok := m.reuseWindow(ctx, acct, acct.WindowID); ok {
			return id, nil
		}
	}

	// A binding cleared earlier may still be recoverable from the cached
	// window config saved at creation time.
	if cached := windowIDFromConfig(acct.WindowConfig); cached != "" && cached != acct.WindowID {
		if id, ok := m.reuseWindow(ctx, acct, cached); ok {
			m.logger.Printf("windows: restored cached window %s for %s", id, email)
			if err := m.store.SaveWindowBinding(ctx, email, id, ""); err != nil {
				m.logger.Printf("windows: save restored binding for %s: %v", email, err)
			}
			return id, nil
		}
	}

	return m.createWindow(ctx, acct)
}

// reuseWindow checks one candidate window id against the account. It
// returns (id, true) only when the window is live, bound to this email
// and of the required device class. Any vendor error counts as absent.
func (m *Manager) reuseWindow(ctx context.Context, acct accounts.Account, windowID string) (string, bool) {
	w, err := m.vendor.GetWindow(ctx, windowID)
	if err != nil {
		if !errors.Is(err, bitapi.ErrWindowNotFound) {
			m.logger.Printf("windows: fetch %s: %v", windowID, err)
		}
		m.clearBinding(ctx, acct.Email)
		return "", false
	}

	if !w.MatchesEmail(acct.Email) {
		// Bound id points at someone else's window. Unbind and walk away;
		// the window stays for whoever actually owns it.
		m.logger.Printf("windows: %s bound to %s but tagged for another account, unbinding", windowID, acct.Email)
		m.clearBinding(ctx, acct.Email)
		return "", false
	}

	if w.DeviceClass() != m.deviceClass {
		m.logger.Printf("windows: %s has device class %s, need %s, recreating", windowID, w.DeviceClass(), m.deviceClass)
		if err := m.vendor.DeleteWindow(ctx, windowID); err != nil {
			m.logger.Printf("windows: delete mismatched %s: %v", windowID, err)
		}
		m.countOp("delete")
		m.clearBinding(ctx, acct.Email)
		return "", false
	}

	m.countOp("reuse")
	return w.ID, true
}

func (m *Manager) createWindow(ctx context.Context, acct accounts.Account) (string, error) {
	fleet, err := m.vendor.ListWindows(ctx)
	if err != nil {
		return "", fmt.Errorf("list windows: %w", err)
	}

	// Another window may already carry this account's tag, for example
	// after a manual import. Creating a second copy would leave two
	// windows fighting over one session.
	for _, w := range fleet {
		if w.MatchesEmail(acct.Email) {
			return "", fmt.Errorf("%w: %s (window %s)", ErrDuplicateWindow, acct.Email, w.ID)
		}
	}

	quota := settings.WindowQuota(ctx, m.settings, m.defaultQuota)
	if len(fleet) >= quota {
		fleet, err = m.evictOldest(ctx, fleet)
		if err != nil {
			return "", err
		}
	}

	template := pickTemplate(fleet, m.deviceClass)

	id, err := m.vendor.CreateWindow(ctx, template, bitapi.CreateSpec{
		Email:         acct.Email,
		Password:      acct.Password,
		RecoveryEmail: acct.RecoveryEmail,
		SecretKey:     acct.SecretKey,
		DeviceClass:   m.deviceClass,
	})
	if err != nil {
		return "", fmt.Errorf("create window for %s: %w", acct.Email, err)
	}

	configJSON := ""
	if created, err := m.vendor.GetWindow(ctx, id); err == nil {
		if raw, err := json.Marshal(created.Raw); err == nil {
			configJSON = string(raw)
		}
	}
	if err := m.store.SaveWindowBinding(ctx, acct.Email, id, configJSON); err != nil {
		m.logger.Printf("windows: save binding %s -> %s: %v", acct.Email, id, err)
	}

	m.countOp("create")
	m.logger.Printf("windows: created %s for %s", id, acct.Email)
	return id, nil
}

// evictOldest frees one capacity slot by deleting the window with the
// lowest creation sequence among those not bound to an account with
// live work. The returned slice no longer contains the victim.
func (m *Manager) evictOldest(ctx context.Context, fleet []bitapi.WindowInfo) ([]bitapi.WindowInfo, error) {
	active := m.active()

	candidates := make([]bitapi.WindowInfo, 0, len(fleet))
	for _, w := range fleet {
		if email := w.BoundEmail(); email != "" && active[email] {
			continue
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return nil, ErrQuotaExhausted
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Seq < candidates[j].Seq })
	victim := candidates[0]

	if err := m.vendor.DeleteWindow(ctx, victim.ID); err != nil {
		return nil, fmt.Errorf("evict window %s: %w", victim.ID, err)
	}
	if email := victim.BoundEmail(); email != "" {
		m.clearBinding(ctx, email)
	}
	m.countOp("evict")
	m.logger.Printf("windows: evicted %s (seq %d) to free quota", victim.ID, victim.Seq)

	remaining := make([]bitapi.WindowInfo, 0, len(fleet)-1)
	for _, w := range fleet {
		if w.ID != victim.ID {
			remaining = append(remaining, w)
		}
	}
	return remaining, nil
}

// pickTemplate prefers the oldest window already of the wanted device
// class; with none available any window serves, since the clone forces
// the device class regardless. An empty fleet yields a blank template.
func pickTemplate(fleet []bitapi.WindowInfo, class bitapi.DeviceClass) bitapi.WindowInfo {
	matching := make([]bitapi.WindowInfo, 0, len(fleet))
	for _, w := range fleet {
		if w.DeviceClass() == class {
			matching = append(matching, w)
		}
	}
	if len(matching) > 0 {
		sort.SliceStable(matching, func(i, j int) bool { return matching[i].Seq < matching[j].Seq })
		return matching[0]
	}
	if len(fleet) > 0 {
		return fleet[rand.Intn(len(fleet))]
	}
	return bitapi.WindowInfo{}
}

// Open launches the window through the vendor and returns its CDP handle.
func (m *Manager) Open(ctx context.Context, windowID string) (bitapi.OpenResult, error) {
	return m.vendor.OpenWindow(ctx, windowID)
}

// Close shuts the window down at the vendor. Best effort: a close
// failure is logged, never surfaced.
func (m *Manager) Close(ctx context.Context, windowID string) {
	if err := m.vendor.CloseWindow(ctx, windowID); err != nil {
		m.logger.Printf("windows: close %s: %v", windowID, err)
	}
}

func (m *Manager) clearBinding(ctx context.Context, email string) {
	if err := m.store.ClearWindowBinding(ctx, email); err != nil {
		m.logger.Printf("windows: clear binding for %s: %v", email, err)
	}
}

func windowIDFromConfig(configJSON string) string {
	if strings.TrimSpace(configJSON) == "" {
		return ""
	}
	var cfg struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return ""
	}
	return cfg.ID
}
