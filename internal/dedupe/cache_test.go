// ABOUTME: Tests for the trigger dedupe cache
// ABOUTME: Covers duplicate detection, TTL expiry, size-bound eviction, and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_FirstObservationIsNotDuplicate(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Observe("msg-1"))
	assert.True(t, c.Observe("msg-1"))
}

func TestCache_DistinctKeysAreIndependent(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Observe("msg-1"))
	assert.False(t, c.Observe("msg-2"))
}

func TestCache_ExpiredKeyIsNotDuplicate(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	assert.False(t, c.Observe("msg-1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Observe("msg-1"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Close()

	c.Observe("msg-1")
	c.Observe("msg-2")
	c.Observe("msg-3") // evicts msg-1

	assert.False(t, c.Observe("msg-1"))
	assert.True(t, c.Observe("msg-3"))
}

func TestCache_ConcurrentObserveSameKeyAdmitsExactlyOne(t *testing.T) {
	c := New(time.Minute, 1000)
	defer c.Close()

	const workers = 32
	var wg sync.WaitGroup
	admitted := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Observe("same-key") {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	assert.Len(t, admitted, 1)
}

func TestCache_ConcurrentObserveDistinctKeys(t *testing.T) {
	c := New(time.Minute, 1000)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("msg-%d", n)
			assert.False(t, c.Observe(key))
		}(i)
	}
	wg.Wait()
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
