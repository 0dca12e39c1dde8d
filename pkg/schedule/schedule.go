// Package schedule runs a function on a fixed interval until stopped.
//
// Time is taken from a clockwork.Clock so callers can drive the schedule
// with a fake clock in tests.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Task is a running periodic call. Stop is safe to call more than once.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every calls fn every interval until Stop is called or ctx is done.
//
// The first call happens one interval after Every returns. Calls never
// overlap: a tick that arrives while fn is running is dropped by the ticker.
// There is no backoff and no jitter. A non-positive interval yields a task
// that never fires.
func Every(ctx context.Context, clock clockwork.Clock, interval time.Duration, fn func(context.Context)) *Task {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	if interval <= 0 {
		close(t.done)
		return t
	}

	ticker := clock.NewTicker(interval)
	go func() {
		defer close(t.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				fn(ctx)
			}
		}
	}()
	return t
}

// Stop cancels the task and waits for an in-flight call to return.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
	<-t.done
}

// Done is closed once the task has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}
