package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kayyshop/donorboard/internal/domain"
)

// processLock is the LockManager used without Redis. It only excludes
// holders within this process; ttl is ignored.
type processLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newProcessLock() *processLock {
	return &processLock{held: make(map[string]bool)}
}

func (l *processLock) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fmt.Errorf("app: lock %s: %w", key, domain.ErrLockHeld)
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

var _ domain.LockManager = (*processLock)(nil)
