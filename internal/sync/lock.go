package sync

import (
	"sync"
)

// KeyLock manages named mutexes for granular locking. The session store uses
// one key per session id so concurrent saves to different sessions never
// serialize on each other.
type KeyLock struct {
	locks sync.Map
}

// NewKeyLock creates a new KeyLock instance
func NewKeyLock() *KeyLock {
	return &KeyLock{}
}

// Lock acquires the lock for the specific key, creating it on first use.
func (l *KeyLock) Lock(key string) {
	val, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	mu := val.(*sync.Mutex)
	mu.Lock()
}

// Unlock releases the lock for the specific key.
func (l *KeyLock) Unlock(key string) {
	val, ok := l.locks.Load(key)
	if !ok {
		return
	}
	mu := val.(*sync.Mutex)
	mu.Unlock()

	// Entries are kept for the process lifetime. Session ids are bounded by
	// the store's retention, so the map stays small without ref counting.
}

// TryLock attempts to acquire the lock, returning true if successful
func (l *KeyLock) TryLock(key string) bool {
	val, _ := l.locks.LoadOrStore(key, &sync.Mutex{})
	mu := val.(*sync.Mutex)
	return mu.TryLock()
}
