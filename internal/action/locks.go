package action

import (
	"sort"
	"sync"
)

// LockManager provides per-key mutual exclusion between actions running in
// different parallel stages, e.g. two distros sharing a build cache.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLockManager creates a new LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for key, creating it on first use.
func (m *LockManager) Lock(key string) {
	m.mu.Lock()
	keyLock, exists := m.locks[key]
	if !exists {
		keyLock = &sync.Mutex{}
		m.locks[key] = keyLock
	}
	m.mu.Unlock()

	keyLock.Lock()
}

// Unlock releases the mutex for key.
func (m *LockManager) Unlock(key string) {
	m.mu.Lock()
	keyLock, exists := m.locks[key]
	m.mu.Unlock()

	if exists {
		keyLock.Unlock()
	}
}

// LockAll acquires every key in lexicographic order, which rules out
// lock-order deadlocks between overlapping key sets.
func (m *LockManager) LockAll(keys []string) {
	for _, key := range sortedKeys(keys) {
		m.Lock(key)
	}
}

// UnlockAll releases every key in reverse order.
func (m *LockManager) UnlockAll(keys []string) {
	sorted := sortedKeys(keys)
	for i := len(sorted) - 1; i >= 0; i-- {
		m.Unlock(sorted[i])
	}
}

// sortedKeys returns a sorted, de-duplicated copy of keys.
func sortedKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	out := sorted[:1]
	for _, key := range sorted[1:] {
		if key != out[len(out)-1] {
			out = append(out, key)
		}
	}
	return out
}
