// Package latch provides a one-shot completion latch: the first Settle wins,
// every later Settle is disarmed.
package latch

import "sync"

// Latch holds the single outcome of a race between several settlement paths.
type Latch[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	value   T
	err     error
}

// New creates an unsettled latch.
func New[T any]() *Latch[T] {
	return &Latch[T]{done: make(chan struct{})}
}

// Settle records the outcome if no other path settled first.
// It reports whether this call won.
func (l *Latch[T]) Settle(value T, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.settled {
		return false
	}
	l.settled = true
	l.value = value
	l.err = err
	close(l.done)
	return true
}

// Done is closed once the latch settles.
func (l *Latch[T]) Done() <-chan struct{} {
	return l.done
}

// Settled reports whether the latch has settled.
func (l *Latch[T]) Settled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settled
}

// Result returns the winning outcome. It must only be called after Done is closed.
func (l *Latch[T]) Result() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.err
}
