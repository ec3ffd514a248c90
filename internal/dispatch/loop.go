// Package dispatch provides the single-threaded execution context that owns
// every piece of state the front-end observes.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// ErrStopped is returned by Invoke once the loop is stopped.
var ErrStopped = fmt.Errorf("dispatch loop stopped: %w", context.Canceled)

const (
	taskQueued int32 = iota
	taskRunning
	taskCanceled
)

type task struct {
	fn       func()
	state    atomic.Int32
	finished chan struct{}
}

// Loop runs posted functions one at a time, in FIFO order, on a single goroutine.
type Loop struct {
	mu      sync.Mutex
	pending []*task
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewLoop creates a loop. Call Run to start it.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start creates a loop and runs it on a new goroutine.
func Start(ctx context.Context) *Loop {
	l := NewLoop()
	go l.Run(ctx)
	return l
}

// Run processes functions until ctx is canceled or Stop is called.
// This blocks.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			t, ok := l.next()
			if !ok {
				break
			}
			if !t.state.CompareAndSwap(taskQueued, taskRunning) {
				continue
			}
			t.fn()
			close(t.finished)
		}
	}
}

// next pops the oldest task. It returns false when the queue is empty or the loop is closed.
func (l *Loop) next() (*task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.pending) == 0 {
		return nil, false
	}
	t := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return t, true
}

func (l *Loop) enqueue(fn func()) (*task, bool) {
	t := &task{fn: fn, finished: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, false
	}
	l.pending = append(l.pending, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return t, true
}

// Stop ends the loop. Functions still queued never run.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.pending = nil
	close(l.done)
}

// Done is closed once the loop is stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Invoke runs fn on the loop and waits until it has finished.
// When ctx ends or the loop stops before fn started, fn never runs and the
// returned error wraps context.Canceled (or ctx.Err()).
// It must not be called from a function already running on the loop.
func (l *Loop) Invoke(ctx context.Context, fn func()) error {
	t, ok := l.enqueue(fn)
	if !ok {
		return ErrStopped
	}

	select {
	case <-t.finished:
		return nil
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskQueued, taskCanceled) {
			return fmt.Errorf("dispatch canceled: %w", ctx.Err())
		}
	case <-l.done:
		if t.state.CompareAndSwap(taskQueued, taskCanceled) {
			return ErrStopped
		}
	}

	// Already running: the loop finishes the current function before it looks at done.
	<-t.finished
	return nil
}

// Post enqueues fn without waiting. After Stop fn is dropped.
func (l *Loop) Post(fn func()) {
	l.enqueue(fn)
}

// Ensure Loop implements domain.Dispatcher.
var _ domain.Dispatcher = (*Loop)(nil)
