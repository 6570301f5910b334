// Package lock provides per-key advisory locking. The store keeps one
// KeyedMutex keyed by project id, which consolidation runs take so that two
// runs for the same project do not interleave; reconsolidation writes and
// task claims do not take it.
package lock

import "sync"

// KeyedMutex hands out an independent mutex per key, created lazily and
// kept for the process lifetime. Safe for concurrent use.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedMutex) lockFor(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Lock acquires the mutex for key, blocking until available.
func (k *KeyedMutex) Lock(key string) { k.lockFor(key).Lock() }

// Unlock releases the mutex for key.
func (k *KeyedMutex) Unlock(key string) { k.lockFor(key).Unlock() }

// TryLock attempts to acquire the mutex for key without blocking, reporting
// whether it succeeded. Used so a second concurrent consolidation run for
// the same project is rejected rather than queued.
func (k *KeyedMutex) TryLock(key string) bool { return k.lockFor(key).TryLock() }
