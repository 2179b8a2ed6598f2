// internal/events/locks.go
package events

import "sync"

// KeyedLocks serializes work per correlation key. Two deliveries for the
// same task or workflow run take the same lock and run one at a time;
// unrelated keys proceed in parallel. Lock entries are reclaimed once the
// last holder releases.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocks returns an empty lock table.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*keyLock)}
}

// Lock acquires the lock for key, blocking while another holder has it.
// The returned func releases it.
func (k *KeyedLocks) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
