package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkUnitContext is the coordination state shared by every WorkUnit of one
// admitted task: the start and end barriers, the future, and the abort path.
//
// The accepted-notification is issued by the start barrier's completion
// callback on behalf of the main work unit's executor, before any party is
// released. The future is resolved by the party running the main work unit,
// after the end barrier opens or is aborted.
type WorkUnitContext struct {
	id       string
	task     Task
	item     ItemInfo
	actions  []Action
	future   *Future
	expected int
	start    *Latch
	end      *Latch

	mu        sync.Mutex
	workUnits []*WorkUnit
	aborted   error
}

// NewWorkUnitContext creates the context for an admitted item.
func NewWorkUnitContext(item *Item) (*WorkUnitContext, error) {
	if item == nil || item.task == nil {
		return nil, fmt.Errorf("work unit context without item: %w", ErrInvalidArgument)
	}
	c := &WorkUnitContext{
		id:       uuid.NewString(),
		task:     item.task,
		item:     item.info(),
		actions:  append([]Action(nil), item.actions...),
		future:   item.future,
		expected: len(SubTasksOf(item.task)),
	}
	var err error
	if c.start, err = NewLatch(c.expected, c.onStart); err != nil {
		return nil, err
	}
	if c.end, err = NewLatch(c.expected, nil); err != nil {
		return nil, err
	}
	c.future.attach(c)
	return c, nil
}

// onStart runs once, when the last party arrives at the start barrier.
func (c *WorkUnitContext) onStart() error {
	main := c.mainWorkUnit()
	if main == nil {
		return fmt.Errorf("no main work unit for %s: %w", c.task.FullName(), ErrIllegalState)
	}
	if e := main.Executor(); e != nil && e.Owner() != nil {
		e.Owner().TaskAccepted(e, c.task)
	}
	c.future.markStarted()
	return nil
}

// ID is a unique id of this execution of the task.
func (c *WorkUnitContext) ID() string { return c.id }

// Task returns the admitted task.
func (c *WorkUnitContext) Task() Task { return c.task }

// Item returns the queue item the context was created from.
func (c *WorkUnitContext) Item() ItemInfo { return c.item }

// Actions returns the snapshot of the item's actions taken at admission.
func (c *WorkUnitContext) Actions() []Action { return append([]Action(nil), c.actions...) }

// Future returns the outcome holder of the task.
func (c *WorkUnitContext) Future() *Future { return c.future }

// ExpectedCount is the number of work units the task needs.
func (c *WorkUnitContext) ExpectedCount() int { return c.expected }

// CreateWorkUnit allocates the work unit for st and registers e (which may
// be nil) against the future. It fails once every sub-task has a unit.
func (c *WorkUnitContext) CreateWorkUnit(st SubTask, e Executor) (*WorkUnit, error) {
	if st == nil {
		return nil, fmt.Errorf("nil sub-task: %w", ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.workUnits) >= c.expected {
		return nil, fmt.Errorf("%s already has %d work units: %w", c.task.FullName(), c.expected, ErrIllegalState)
	}
	wu := &WorkUnit{work: st, context: c}
	if wu.IsMainWork() {
		for _, other := range c.workUnits {
			if other.IsMainWork() {
				return nil, fmt.Errorf("%s already has a main work unit: %w", c.task.FullName(), ErrIllegalState)
			}
		}
	}
	if e != nil {
		c.future.addExecutor(e)
	}
	c.workUnits = append(c.workUnits, wu)
	return wu, nil
}

// WorkUnits returns a snapshot of the units created so far.
func (c *WorkUnitContext) WorkUnits() []*WorkUnit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*WorkUnit(nil), c.workUnits...)
}

// PrimaryWorkUnit returns the first created unit.
func (c *WorkUnitContext) PrimaryWorkUnit() (*WorkUnit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.workUnits) == 0 {
		return nil, fmt.Errorf("%s has no work units yet: %w", c.task.FullName(), ErrIllegalState)
	}
	return c.workUnits[0], nil
}

func (c *WorkUnitContext) mainWorkUnit() *WorkUnit {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, wu := range c.workUnits {
		if wu.IsMainWork() {
			return wu
		}
	}
	return nil
}

// SynchronizeStart blocks until every party of the task called it.
func (c *WorkUnitContext) SynchronizeStart(ctx context.Context, wu *WorkUnit) error {
	if err := c.own(wu); err != nil {
		return err
	}
	err := c.start.Join(ctx)
	if err != nil {
		c.propagate(err, wu)
	}
	return err
}

// SynchronizeEnd blocks until every party finished its portion. Afterwards
// the party running the main work unit resolves the future and notifies its
// owner with d; other parties do nothing. Aborted parties must still call it
// so the future gets resolved.
func (c *WorkUnitContext) SynchronizeEnd(ctx context.Context, wu *WorkUnit, exec Executable, problem error, d time.Duration) error {
	if err := c.own(wu); err != nil {
		return err
	}
	err := c.end.Join(ctx)
	if err != nil {
		c.propagate(err, wu)
	}
	if !wu.IsMainWork() {
		return err
	}

	// Only a barrier that did not open turns the run into an abort.
	if err != nil {
		if cause := c.Aborted(); cause != nil {
			problem = &AbortedError{Cause: cause}
		} else if problem == nil {
			problem = err
		}
	}
	c.future.resolve(exec, problem)

	e := wu.Executor()
	if e == nil || e.Owner() == nil {
		return err
	}
	if problem == nil {
		e.Owner().TaskCompleted(e, c.task, d)
	} else {
		e.Owner().TaskCompletedWithProblems(e, c.task, d, problem)
	}
	return err
}

// propagate turns a barrier failure that did not come from Abort (e.g. an
// interrupted wait) into an abort of the whole task.
func (c *WorkUnitContext) propagate(err error, wu *WorkUnit) {
	if !errors.Is(err, ErrAborted) {
		return
	}
	_ = c.abort(abortCause(err), wu.Executor())
}

func (c *WorkUnitContext) own(wu *WorkUnit) error {
	if wu == nil || wu.context != c {
		return fmt.Errorf("work unit does not belong to %s: %w", c.task.FullName(), ErrInvalidArgument)
	}
	return nil
}

// Abort cancels the task: both barriers are aborted and every bound executor
// is interrupted. Only the first cause is kept, and once every party passed
// the end barrier Abort has no effect.
func (c *WorkUnitContext) Abort(cause error) error {
	return c.abort(cause, nil)
}

func (c *WorkUnitContext) abort(cause error, self Executor) error {
	if cause == nil {
		return fmt.Errorf("abort without cause: %w", ErrInvalidArgument)
	}
	c.mu.Lock()
	if c.aborted != nil || c.endReleased() {
		c.mu.Unlock()
		return nil
	}
	c.aborted = cause
	wus := append([]*WorkUnit(nil), c.workUnits...)
	c.mu.Unlock()

	c.start.Abort(cause)
	c.end.Abort(cause)

	mainBound := false
	for _, wu := range wus {
		e := wu.Executor()
		if wu.IsMainWork() && e != nil {
			mainBound = true
		}
		if e != nil && e != self {
			e.Interrupt(cause)
		}
	}
	// Nobody is left to reach SynchronizeEnd for the main work.
	if !mainBound {
		c.future.resolve(nil, &AbortedError{Cause: cause})
	}
	return nil
}

func (c *WorkUnitContext) endReleased() bool {
	return c.end.Remaining() == 0 && c.end.AbortCause() == nil
}

// Aborted returns the abort cause, or nil.
func (c *WorkUnitContext) Aborted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}
