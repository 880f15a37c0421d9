package accounts

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process account store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{accounts: make(map[string]Account)}
}

func (s *InMemoryStore) Get(_ context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[NormalizeEmail(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acc, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	return out, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, up Upsert) error {
	key := NormalizeEmail(up.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[key]
	if !ok {
		acc = Account{Email: key, Status: StatusPending}
	}
	if up.Password != nil {
		acc.Password = *up.Password
	}
	if up.RecoveryEmail != nil {
		acc.RecoveryEmail = *up.RecoveryEmail
	}
	if up.SecretKey != nil {
		acc.SecretKey = *up.SecretKey
	}
	if up.Status != nil {
		acc.Status = *up.Status
	}
	if up.Message != nil {
		acc.Message = *up.Message
	}
	if up.VerificationLink != nil {
		acc.VerificationLink = *up.VerificationLink
	}
	acc.UpdatedAt = time.Now().UTC()
	s.accounts[key] = acc
	return nil
}

func (s *InMemoryStore) ClearWindowBinding(_ context.Context, email string) error {
	key := NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[key]
	if !ok {
		return nil
	}
	acc.WindowID = ""
	acc.UpdatedAt = time.Now().UTC()
	s.accounts[key] = acc
	return nil
}

func (s *InMemoryStore) SaveWindowBinding(_ context.Context, email, windowID, windowConfig string) error {
	key := NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[key]
	if !ok {
		acc = Account{Email: key, Status: StatusPending}
	}
	acc.WindowID = windowID
	if windowConfig != "" {
		acc.WindowConfig = windowConfig
	}
	acc.UpdatedAt = time.Now().UTC()
	s.accounts[key] = acc
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
