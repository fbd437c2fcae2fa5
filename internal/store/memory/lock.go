package memory

import (
	"context"
	"sync"
	"time"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// LockManager implements domain.LockManager with an in-process mutex map.
// It is the single-process counterpart of the Redis lock manager and shares
// its contract: Acquire either takes the lock or fails fast with
// ErrLockHeld.
type LockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLockManager returns an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]bool)}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld. The TTL is
// ignored in-process; the returned release function is idempotent.
func (lm *LockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.held[key] {
		return nil, domain.ErrLockHeld
	}
	lm.held[key] = true

	released := false
	release := func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(lm.held, key)
	}
	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
