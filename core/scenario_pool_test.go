package core

import (
	"runtime"
	"sync/atomic"
	"testing"
)

func TestScenarioPoolBoundsConcurrency(t *testing.T) {
	pool := NewScenarioPool(2)

	var running int32
	var maxSeen int32
	release := make(chan struct{})

	// Submit blocks the caller while both slots are busy, so the rounds are
	// released from another goroutine once the pool is saturated.
	go func() {
		for atomic.LoadInt32(&running) < 2 {
			runtime.Gosched()
		}
		close(release)
	}()

	for i := 0; i < 5; i++ {
		round := i
		pool.Submit(func() RoundResult {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return RoundResult{Round: round}
		})
	}

	results := pool.Wait()

	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	if maxSeen > 2 {
		t.Fatalf("expected at most 2 concurrent rounds, saw %d", maxSeen)
	}
}

func TestScenarioPoolSingleSlotDefault(t *testing.T) {
	pool := NewScenarioPool(0)
	pool.Submit(func() RoundResult { return RoundResult{Round: 1} })
	results := pool.Wait()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}
