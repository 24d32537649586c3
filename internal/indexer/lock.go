package indexer

import (
	"sync"
	"sync/atomic"
)

// IndexLock provides non-blocking lock semantics using atomic operations.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Locks hands out one IndexLock per collection name
type Locks struct {
	mu    sync.Mutex
	locks map[string]*IndexLock
}

// TryAcquire locks the named collection, returning false if a run holds it
func (l *Locks) TryAcquire(name string) bool {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*IndexLock)
	}
	lock, ok := l.locks[name]
	if !ok {
		lock = &IndexLock{}
		l.locks[name] = lock
	}
	l.mu.Unlock()
	return lock.TryAcquire()
}

// Release unlocks the named collection
func (l *Locks) Release(name string) {
	l.mu.Lock()
	lock := l.locks[name]
	l.mu.Unlock()
	if lock != nil {
		lock.Release()
	}
}
