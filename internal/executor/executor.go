package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aristath/buildqueue/internal/scheduler"
)

var (
	// ErrExecutorBusy is returned by Accept while the executor runs a unit.
	ErrExecutorBusy = errors.New("executor busy")

	// ErrNodeOffline is returned by Accept on an offline computer and is the
	// interrupt cause when a computer goes offline.
	ErrNodeOffline = errors.New("node offline")
)

// Executor is one slot of a Computer. It runs at most one work unit at a
// time, each in its own goroutine under a cancellable context that
// Interrupt cancels.
type Executor struct {
	computer *Computer
	number   int

	mu      sync.Mutex
	unit    *scheduler.WorkUnit
	current scheduler.Executable
	cancel  context.CancelCauseFunc
	since   time.Time
}

var _ scheduler.Executor = (*Executor)(nil)

// DisplayName is "<computer>#<number>".
func (e *Executor) DisplayName() string {
	return fmt.Sprintf("%s#%d", e.computer.name, e.number)
}

// Owner returns the computer.
func (e *Executor) Owner() scheduler.Owner { return e.computer }

// Computer returns the computer the executor belongs to.
func (e *Executor) Computer() *Computer { return e.computer }

// Number is the index of the executor on its computer.
func (e *Executor) Number() int { return e.number }

// Accept starts running wu in the background.
func (e *Executor) Accept(wu *scheduler.WorkUnit) error {
	if wu == nil {
		return fmt.Errorf("accept nil work unit: %w", scheduler.ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.computer.Online() {
		return fmt.Errorf("%s: %w", e.DisplayName(), ErrNodeOffline)
	}
	if e.unit != nil {
		return fmt.Errorf("%s: %w", e.DisplayName(), ErrExecutorBusy)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	e.unit = wu
	e.cancel = cancel
	e.since = time.Now()
	go e.run(ctx, wu)
	return nil
}

// Interrupt cancels the running unit with cause. It does nothing when idle.
func (e *Executor) Interrupt(cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel(cause)
	}
}

// CurrentExecutable returns the executable being run, or nil.
func (e *Executor) CurrentExecutable() scheduler.Executable {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Unit returns the work unit being run, or nil.
func (e *Executor) Unit() *scheduler.WorkUnit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unit
}

// Busy reports whether a work unit is assigned.
func (e *Executor) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unit != nil
}

// Since returns when the current unit was accepted, or the zero time.
func (e *Executor) Since() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unit == nil {
		return time.Time{}
	}
	return e.since
}

func (e *Executor) run(ctx context.Context, wu *scheduler.WorkUnit) {
	defer e.finish()

	wu.SetExecutor(e)
	wuc := wu.Context()
	start := time.Now()

	var exec scheduler.Executable
	problem := wuc.SynchronizeStart(ctx, wu)
	if problem == nil {
		exec, problem = wu.Work().CreateExecutable(wu)
		if problem == nil {
			e.setCurrent(exec)
			problem = e.execute(ctx, exec)
		}
		if problem != nil {
			_ = wu.Abort(problem)
		}
	}

	// Aborted parties still arrive so the main work resolves the future.
	_ = wuc.SynchronizeEnd(ctx, wu, exec, problem, time.Since(start))
}

// execute runs exec and turns a panic into a problem.
func (e *Executor) execute(ctx context.Context, exec scheduler.Executable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: %s panicked running %s: %v\n%s", e.DisplayName(), exec.Parent().DisplayName(), r, debug.Stack())
			err = fmt.Errorf("%s panicked: %v", exec.Parent().DisplayName(), r)
		}
	}()
	return exec.Run(ctx)
}

func (e *Executor) setCurrent(exec scheduler.Executable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = exec
}

func (e *Executor) finish() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel(nil)
	}
	e.unit = nil
	e.current = nil
	e.cancel = nil
	e.mu.Unlock()
	e.computer.notifyIdle()
}
