package lock

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRWLockWithLock(t *testing.T) {
	var l RWLock
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.WithLock(func() { counter++ })
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}

func TestRWLockConcurrentReaders(t *testing.T) {
	var l RWLock
	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.WithRLock(func() {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&maxObserved)
					if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
						break
					}
				}
				atomic.AddInt32(&inFlight, -1)
			})
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, maxObserved, int32(1))
}

func TestSegmentedRoundsUpToPowerOfTwo(t *testing.T) {
	s := NewSegmented(5)
	assert.Equal(t, 8, s.Count())
}

func TestSegmentedIsolatesDisjointKeys(t *testing.T) {
	s := NewSegmented(16)
	counters := make([]int, 16)
	var wg sync.WaitGroup
	for h := uint64(0); h < 16; h++ {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(h uint64) {
				defer wg.Done()
				s.WithLock(h, func() { counters[h]++ })
			}(h)
		}
	}
	wg.Wait()
	for _, c := range counters {
		assert.Equal(t, 20, c)
	}
}

func TestSegmentedLockAllUnlockAll(t *testing.T) {
	s := NewSegmented(4)
	s.LockAll()
	s.UnlockAll()
	done := make(chan struct{})
	go func() {
		s.WithLock(0, func() {})
		close(done)
	}()
	<-done
}
