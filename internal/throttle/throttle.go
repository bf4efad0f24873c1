// Package throttle rate-limits a function to at most one call per interval
// while guaranteeing that the last argument is eventually delivered.
package throttle

import (
	"sync"
	"time"
)

// Throttle calls fn at most once per interval. A call inside the interval
// replaces any pending argument and schedules a trailing call for the end of
// the interval. Calls to fn never overlap and run in argument order.
type Throttle[T any] struct {
	interval time.Duration
	fn       func(T)

	mu         sync.Mutex
	last       time.Time
	pending    T
	hasPending bool
	timer      *time.Timer
	gen        uint64
	stopped    bool

	runMu sync.Mutex
}

// New returns a throttle around fn.
func New[T any](interval time.Duration, fn func(T)) *Throttle[T] {
	return &Throttle[T]{interval: interval, fn: fn}
}

// Call runs fn(arg) now when the interval since the last run has elapsed,
// otherwise defers it to the trailing edge.
func (t *Throttle[T]) Call(arg T) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	now := time.Now()
	wait := t.interval - now.Sub(t.last)
	if wait <= 0 && t.timer == nil {
		t.last = now
		t.runMu.Lock()
		t.mu.Unlock()
		defer t.runMu.Unlock()
		t.fn(arg)
		return
	}

	t.pending = arg
	t.hasPending = true
	if t.timer == nil {
		t.gen++
		gen := t.gen
		t.timer = time.AfterFunc(max(wait, 0), func() { t.fire(gen) })
	}
	t.mu.Unlock()
}

// fire runs the trailing call armed as gen. A timer that was already
// firing when Flush or Stop disarmed it finds a newer gen and leaves the
// current timer alone.
func (t *Throttle[T]) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	if t.stopped || !t.hasPending {
		t.mu.Unlock()
		return
	}
	arg := t.take()
	t.last = time.Now()
	t.runMu.Lock()
	t.mu.Unlock()
	defer t.runMu.Unlock()
	t.fn(arg)
}

// Flush runs the pending call, if any, immediately.
func (t *Throttle[T]) Flush() {
	t.mu.Lock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.stopped || !t.hasPending {
		t.mu.Unlock()
		return
	}
	arg := t.take()
	t.last = time.Now()
	t.runMu.Lock()
	t.mu.Unlock()
	defer t.runMu.Unlock()
	t.fn(arg)
}

// Stop discards the pending call. Later calls are ignored.
func (t *Throttle[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	var zero T
	t.pending, t.hasPending = zero, false
}

// Pending reports whether a trailing call is waiting.
func (t *Throttle[T]) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasPending
}

// take returns and clears the pending argument. The caller must hold t.mu.
func (t *Throttle[T]) take() T {
	arg := t.pending
	var zero T
	t.pending, t.hasPending = zero, false
	return arg
}
