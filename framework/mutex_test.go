package framework

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAsyncMutexGrantsInArrivalOrder queues waiters one at a time and checks
// they enter the critical section in the same order.
func TestAsyncMutexGrantsInArrivalOrder(t *testing.T) {
	mu := NewAsyncMutex()
	ctx := context.Background()

	release, err := mu.Lock(ctx)
	require.NoError(t, err)

	var (
		orderMu sync.Mutex
		order   []int
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r, err := mu.Lock(ctx)
			if err != nil {
				return
			}
			orderMu.Lock()
			order = append(order, id)
			orderMu.Unlock()
			r()
		}(i)
		// wait until the goroutine is parked in the queue before starting the next
		want := i + 1
		require.Eventually(t, func() bool { return mu.Waiting() == want }, time.Second, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestAsyncMutexReleaseIsIdempotent(t *testing.T) {
	mu := NewAsyncMutex()
	release, err := mu.Lock(context.Background())
	require.NoError(t, err)
	release()
	release()

	again, ok := mu.TryLock()
	require.True(t, ok)
	_, ok = mu.TryLock()
	assert.False(t, ok)
	again()
}

func TestAsyncMutexLockHonoursContext(t *testing.T) {
	mu := NewAsyncMutex()
	release, err := mu.Lock(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = mu.Lock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAsyncMutexLockedReleasesAfterBody(t *testing.T) {
	mu := NewAsyncMutex()
	runs := 0
	for range mu.Locked(context.Background()) {
		runs++
		_, ok := mu.TryLock()
		assert.False(t, ok, "lock must be held inside the loop body")
	}
	assert.Equal(t, 1, runs)

	release, ok := mu.TryLock()
	require.True(t, ok)
	release()
}

func TestAsyncMutexLockedReleasesOnPanic(t *testing.T) {
	mu := NewAsyncMutex()
	func() {
		defer func() { _ = recover() }()
		for range mu.Locked(context.Background()) {
			panic("boom")
		}
	}()
	release, ok := mu.TryLock()
	require.True(t, ok)
	release()
}

func TestAsyncMutexLockedSkipsBodyWhenContextDone(t *testing.T) {
	mu := NewAsyncMutex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range mu.Locked(ctx) {
		t.Fatal("body must not run with a cancelled context")
	}
}

// TestAsyncMutexSerializesCriticalSections checks that no two bodies overlap.
func TestAsyncMutexSerializesCriticalSections(t *testing.T) {
	mu := NewAsyncMutex()
	var (
		inside int
		peak   int
		guard  sync.Mutex
		wg     sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range mu.Locked(context.Background()) {
				guard.Lock()
				inside++
				if inside > peak {
					peak = inside
				}
				guard.Unlock()
				time.Sleep(time.Millisecond)
				guard.Lock()
				inside--
				guard.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)
}
