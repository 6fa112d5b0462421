package ack

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_WaitDrains(t *testing.T) {
	tracker := NewTracker()
	var done int32
	for i := 0; i < 10; i++ {
		tracker.Go(func() {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&done, 1)
		})
	}
	if err := tracker.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if atomic.LoadInt32(&done) != 10 {
		t.Errorf("done = %d, want 10", done)
	}
	if tracker.Active() != 0 {
		t.Errorf("Active() = %d after drain", tracker.Active())
	}
}

func TestTracker_WaitRespectsContext(t *testing.T) {
	tracker := NewTracker()
	release := make(chan struct{})
	tracker.Go(func() { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tracker.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if tracker.Active() != 1 {
		t.Errorf("Active() = %d, want 1", tracker.Active())
	}
}

func TestTracker_Close(t *testing.T) {
	tracker := NewTracker()
	tracker.Close()
	if tracker.Go(func() { t.Error("closed tracker ran work") }) {
		t.Error("Go() = true on closed tracker")
	}
}

func TestTracker_Nil(t *testing.T) {
	var tracker *Tracker
	ran := make(chan struct{})
	if !tracker.Go(func() { close(ran) }) {
		t.Fatal("nil tracker should run work")
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("work did not run")
	}
	tracker.Close()
	if tracker.Active() != 0 || tracker.Wait(context.Background()) != nil {
		t.Error("nil tracker helpers should be no-ops")
	}
}

func TestSafe(t *testing.T) {
	if err := Safe(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Safe(ok) = %v", err)
	}
	want := errors.New("boom")
	if err := Safe(context.Background(), func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Safe(err) = %v", err)
	}
	if err := Safe(context.Background(), func(ctx context.Context) error { panic("bad") }); err == nil {
		t.Error("Safe(panic) returned nil")
	}
}
