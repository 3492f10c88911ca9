package framework

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// AsyncMutex is a fair mutual-exclusion lock. Waiters are granted the lock in
// the order they called Lock. There is no timeout: a holder that never
// releases blocks every later caller until their contexts end.
type AsyncMutex struct {
	sem     *semaphore.Weighted
	waiting atomic.Int32
}

// NewAsyncMutex returns an unlocked mutex.
func NewAsyncMutex() *AsyncMutex {
	return &AsyncMutex{sem: semaphore.NewWeighted(1)}
}

// Release hands the lock to the next waiter. Calling it more than once is
// harmless.
type Release func()

// Lock blocks until the caller holds the lock or ctx is done. The returned
// Release must be called exactly once the critical section ends; extra calls
// are ignored.
func (m *AsyncMutex) Lock(ctx context.Context) (Release, error) {
	m.waiting.Add(1)
	err := m.sem.Acquire(ctx, 1)
	m.waiting.Add(-1)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { m.sem.Release(1) })
	}, nil
}

// TryLock acquires the lock only if it is free and nobody is queued.
func (m *AsyncMutex) TryLock() (Release, bool) {
	if !m.sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { m.sem.Release(1) })
	}, true
}

// Waiting reports how many callers are blocked in Lock, including one that
// is about to be granted the lock.
func (m *AsyncMutex) Waiting() int {
	return int(m.waiting.Load())
}

// Locked yields once while the lock is held, so a range loop body becomes a
// critical section:
//
//	for range mu.Locked(ctx) {
//		// exclusive
//	}
//
// The lock is released when the body finishes, including on panic, break or
// return. If ctx ends before the lock is granted the body never runs.
func (m *AsyncMutex) Locked(ctx context.Context) iter.Seq[struct{}] {
	return func(yield func(struct{}) bool) {
		release, err := m.Lock(ctx)
		if err != nil {
			return
		}
		defer release()
		yield(struct{}{})
	}
}
