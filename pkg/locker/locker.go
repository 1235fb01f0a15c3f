// Package locker provides short-lived exclusive leases used to make sure a scheduled tick is
// dispatched by a single instance.
package locker

import (
	"context"
	"sync"
	"time"
)

// KeyPrefix namespaces every lease key.
const KeyPrefix = "flowengine:lock:"

type Locker interface {
	// TryLock acquires key for ttl. It returns false, without error, when the key is
	// already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}

// MemoryLocker holds leases in process. It is enough for a single instance.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]time.Time
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	for k, expiry := range m.leases {
		if !now.Before(expiry) {
			delete(m.leases, k)
		}
	}

	if _, held := m.leases[key]; held {
		return false, nil
	}

	m.leases[key] = now.Add(ttl)

	return true, nil
}

func (m *MemoryLocker) Close() error {
	return nil
}
