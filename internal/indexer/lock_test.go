package indexer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIndexLock_ConcurrentAcquisition checks that overlapping runs of one
// collection cannot both start
func TestIndexLock_ConcurrentAcquisition(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func(t *testing.T)
	}{
		{
			name: "TryAcquire fails when lock is held",
			testFunc: func(t *testing.T) {
				var lock IndexLock
				require.True(t, lock.TryAcquire(), "First TryAcquire should succeed")
				assert.False(t, lock.TryAcquire(), "Second TryAcquire should fail while lock is held")
				lock.Release()
			},
		},
		{
			name: "Release makes lock available again",
			testFunc: func(t *testing.T) {
				var lock IndexLock
				require.True(t, lock.TryAcquire())
				lock.Release()
				assert.True(t, lock.TryAcquire(), "Lock should be available after Release")
				lock.Release()
			},
		},
		{
			name: "Concurrent goroutines attempting acquisition",
			testFunc: func(t *testing.T) {
				var lock IndexLock
				const numGoroutines = 100

				acquired := make([]bool, numGoroutines)
				var wg sync.WaitGroup
				wg.Add(numGoroutines)
				for i := 0; i < numGoroutines; i++ {
					go func(idx int) {
						defer wg.Done()
						acquired[idx] = lock.TryAcquire()
					}(i)
				}
				wg.Wait()

				successCount := 0
				for _, success := range acquired {
					if success {
						successCount++
					}
				}
				assert.Equal(t, 1, successCount, "Exactly one goroutine should acquire the lock")
				lock.Release()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.testFunc(t)
		})
	}
}

func TestLocks_PerCollection(t *testing.T) {
	var locks Locks

	require.True(t, locks.TryAcquire("obsidian"))
	assert.False(t, locks.TryAcquire("obsidian"), "same collection is busy")
	assert.True(t, locks.TryAcquire("work"), "other collections are independent")

	locks.Release("obsidian")
	assert.True(t, locks.TryAcquire("obsidian"))

	locks.Release("never-acquired")
}
