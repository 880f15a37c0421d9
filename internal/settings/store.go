// Package settings holds operator-tunable configuration shared by task
// workflows: card details for bind/verify flows, the SheerID API key and
// the browser window quota.
package settings

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

const (
	KeySheerIDAPIKey     = "sheerid_api_key"
	KeyCardNumber        = "card_number"
	KeyCardExpMonth      = "card_exp_month"
	KeyCardExpYear       = "card_exp_year"
	KeyCardCVV           = "card_cvv"
	KeyCardZip           = "card_zip"
	KeyWindowQuota       = "browser_window_limit"
	DefaultWindowQuota   = 50
)

// CardInfo groups the payment card fields used by bind-card and
// age-verification workflows. Empty Number means "not configured".
type CardInfo struct {
	Number   string `json:"number"`
	ExpMonth string `json:"exp_month"`
	ExpYear  string `json:"exp_year"`
	CVV      string `json:"cvv"`
	Zip      string `json:"zip"`
}

// Store is a small key/value settings collaborator.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// InMemoryStore keeps settings in a process-local map.
type InMemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{values: make(map[string]string)}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key], nil
}

func (s *InMemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// Card reads the configured card fields; errors degrade to empty fields.
func Card(ctx context.Context, s Store) CardInfo {
	get := func(key string) string {
		v, _ := s.Get(ctx, key)
		return v
	}
	return CardInfo{
		Number:   get(KeyCardNumber),
		ExpMonth: get(KeyCardExpMonth),
		ExpYear:  get(KeyCardExpYear),
		CVV:      get(KeyCardCVV),
		Zip:      get(KeyCardZip),
	}
}

// SheerIDAPIKey reads the configured SheerID key, empty when unset.
func SheerIDAPIKey(ctx context.Context, s Store) string {
	v, _ := s.Get(ctx, KeySheerIDAPIKey)
	return strings.TrimSpace(v)
}

// WindowQuota reads the window-count quota, falling back to fallback
// for unset, unparsable or non-positive values.
func WindowQuota(ctx context.Context, s Store, fallback int) int {
	if fallback <= 0 {
		fallback = DefaultWindowQuota
	}
	v, err := s.Get(ctx, KeyWindowQuota)
	if err != nil || strings.TrimSpace(v) == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
