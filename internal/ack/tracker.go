package ack

import (
	"context"
	"errors"
	"sync"
)

// ErrTrackerClosed is returned when work is offered to a closed tracker.
var ErrTrackerClosed = errors.New("tracker closed")

// Tracker counts in-flight slow paths so shutdown can wait for them.
// A nil *Tracker runs work on untracked goroutines.
type Tracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	active int
	closed bool
}

// NewTracker returns an open tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Go runs fn on a new goroutine. It returns false without running fn once
// the tracker is closed.
func (t *Tracker) Go(fn func()) bool {
	if t == nil {
		go fn()
		return true
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.active++
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			t.active--
			t.mu.Unlock()
			t.wg.Done()
		}()
		fn()
	}()
	return true
}

// Active returns the number of running slow paths.
func (t *Tracker) Active() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Close stops the tracker from accepting new work.
func (t *Tracker) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Wait blocks until all tracked work finishes or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
