// Package sched provides small cancellable timer tasks so components own one
// handle per concern (poll, save, retry) and teardown is a single sweep.
package sched

import (
	"context"
	"sync"
	"time"
)

// Task runs a function either once after a delay or repeatedly on an
// interval. A Task is single-use: Start at most once, Cancel any number of
// times from any goroutine.
type Task struct {
	name      string
	interval  time.Duration
	immediate bool
	oneShot   bool
	fn        func(ctx context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewInterval returns a repeating task. When immediate is set the first run
// fires right away instead of waiting one interval.
func NewInterval(name string, every time.Duration, immediate bool, fn func(ctx context.Context)) *Task {
	return &Task{name: name, interval: every, immediate: immediate, fn: fn}
}

// NewTimer returns a one-shot task that fires after delay unless cancelled.
func NewTimer(name string, delay time.Duration, fn func(ctx context.Context)) *Task {
	return &Task{name: name, interval: delay, oneShot: true, fn: fn}
}

// Name identifies the task in logs.
func (t *Task) Name() string { return t.name }

// Start launches the task goroutine. Calling Start twice or after Cancel is
// a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.run(runCtx)
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)

	if t.oneShot {
		timer := time.NewTimer(t.interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			t.fn(ctx)
		}
		return
	}

	if t.immediate {
		t.fn(ctx)
		if ctx.Err() != nil {
			return
		}
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fn(ctx)
		}
	}
}

// Cancel stops the task and waits for an in-flight run to return, so callers
// can rely on the function not firing after Cancel. Safe to call repeatedly
// and before Start.
func (t *Task) Cancel() {
	t.mu.Lock()
	if !t.started {
		t.started = true // poison: a later Start must not launch
		t.mu.Unlock()
		return
	}
	cancel := t.cancel
	done := t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
