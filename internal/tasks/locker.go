package tasks

import (
	"strings"
	"sync"
)

// Locker hands out one mutex per account email so that at most one
// workflow sequence runs for an account at any time, even when two
// concurrently submitted tasks both include it. The guard mutex only
// protects table insertion; the per-account mutex protects execution.
// Entries live for the life of the process.
type Locker struct {
	guard sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// For returns the serialization lock for an email, creating it lazily.
func (l *Locker) For(email string) *sync.Mutex {
	key := strings.ToLower(strings.TrimSpace(email))
	l.guard.Lock()
	defer l.guard.Unlock()
	mu, ok := l.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[key] = mu
	}
	return mu
}
