package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Future is the single-resolution outcome holder of a queued task.
// It is created when the task is enqueued and resolved exactly once:
// with the main executable on success, with the problem on failure, or
// with ErrCancelled if the item was removed before it was scheduled.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	started   chan struct{}
	resolved  bool
	exec      Executable
	err       error
	executors []Executor
	canceller func() bool // removes the item while it is still waiting
	wuc       *WorkUnitContext
}

func newFuture() *Future {
	return &Future{
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Get blocks until the outcome is resolved or ctx is done. A failed task
// returns its problem as the error.
func (f *Future) Get(ctx context.Context) (Executable, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.exec, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetTimeout is Get bounded by d.
func (f *Future) GetTimeout(d time.Duration) (Executable, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Get(ctx)
}

// Done is closed once the outcome is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Started is closed once all executors of the task passed the start barrier.
func (f *Future) Started() <-chan struct{} { return f.started }

// IsDone reports whether the outcome is resolved.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether the task was removed from the queue or
// aborted through Cancel.
func (f *Future) IsCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved && errors.Is(f.err, ErrCancelled)
}

// Cancel removes the task from the queue if it is still waiting, or aborts
// its executors if it was already scheduled. It returns false if the
// outcome was already resolved.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return false
	}
	canceller, wuc := f.canceller, f.wuc
	f.mu.Unlock()

	if wuc == nil && canceller != nil && canceller() {
		return true
	}
	f.mu.Lock()
	wuc = f.wuc
	f.mu.Unlock()
	if wuc != nil {
		_ = wuc.Abort(ErrCancelled)
		return true
	}
	return false
}

// Executors returns the executors registered against this future.
func (f *Future) Executors() []Executor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Executor(nil), f.executors...)
}

func (f *Future) addExecutor(e Executor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executors = append(f.executors, e)
}

func (f *Future) attach(wuc *WorkUnitContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wuc = wuc
}

func (f *Future) markStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.started:
	default:
		close(f.started)
	}
}

// resolve sets the outcome. Only the first call has an effect.
func (f *Future) resolve(exec Executable, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	f.exec = exec
	f.err = err
	close(f.done)
	return true
}
