package accounts

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of a managed account.
type Status string

const (
	StatusPending    Status = "pending"
	StatusLinkReady  Status = "link_ready"
	StatusVerified   Status = "verified"
	StatusSubscribed Status = "subscribed"
	StatusIneligible Status = "ineligible"
	StatusError      Status = "error"
	StatusRunning    Status = "running"
)

var ErrNotFound = errors.New("account not found")

// Account is one managed identity. Email is the unique key,
// matched case-insensitively.
type Account struct {
	Email            string    `json:"email"`
	Password         string    `json:"password,omitempty"`
	RecoveryEmail    string    `json:"recovery_email,omitempty"`
	SecretKey        string    `json:"secret_key,omitempty"`
	Status           Status    `json:"status"`
	Message          string    `json:"message,omitempty"`
	VerificationLink string    `json:"verification_link,omitempty"`
	WindowID         string    `json:"window_id,omitempty"`
	WindowConfig     string    `json:"window_config,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Upsert carries a partial account update; nil fields are left untouched.
type Upsert struct {
	Email            string
	Password         *string
	RecoveryEmail    *string
	SecretKey        *string
	Status           *Status
	Message          *string
	VerificationLink *string
}

// Store is the persistent account collaborator consumed by the core.
type Store interface {
	Get(ctx context.Context, email string) (Account, error)
	List(ctx context.Context) ([]Account, error)
	Upsert(ctx context.Context, up Upsert) error
	ClearWindowBinding(ctx context.Context, email string) error
	SaveWindowBinding(ctx context.Context, email, windowID, windowConfig string) error
	Close() error
}

// NormalizeEmail lower-cases and trims an email for use as a store key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
