package latch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLatch_FirstSettleWins(t *testing.T) {
	l := New[string]()

	if !l.Settle("first", nil) {
		t.Fatal("first Settle should win")
	}
	if l.Settle("second", errors.New("late")) {
		t.Fatal("second Settle should be disarmed")
	}

	<-l.Done()
	v, err := l.Result()
	if v != "first" || err != nil {
		t.Errorf("Result() = %q, %v, want first, nil", v, err)
	}
}

func TestLatch_ConcurrentSettle(t *testing.T) {
	l := New[int]()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if l.Settle(n, nil) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("wins = %d, want 1", wins.Load())
	}
	if !l.Settled() {
		t.Error("Settled() = false after Settle")
	}
}
