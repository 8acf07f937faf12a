package scheduler

import "sync"

// WorkUnit binds one SubTask of a task to the executor running it.
type WorkUnit struct {
	work    SubTask
	context *WorkUnitContext

	mu       sync.Mutex
	executor Executor
}

// Work returns the sub-task this unit executes.
func (wu *WorkUnit) Work() SubTask { return wu.work }

// Context returns the shared context of all work units of the task.
func (wu *WorkUnit) Context() *WorkUnitContext { return wu.context }

// Executor returns the executor bound to this unit, or nil before pickup.
func (wu *WorkUnit) Executor() Executor {
	wu.mu.Lock()
	defer wu.mu.Unlock()
	return wu.executor
}

// SetExecutor binds e to the unit. Executors call it when they pick the unit up.
func (wu *WorkUnit) SetExecutor(e Executor) {
	wu.mu.Lock()
	defer wu.mu.Unlock()
	wu.executor = e
}

// IsMainWork reports whether this unit runs the task itself.
func (wu *WorkUnit) IsMainWork() bool {
	return wu.work == SubTask(wu.context.task)
}

// Executable returns what the bound executor is currently running, or nil.
func (wu *WorkUnit) Executable() Executable {
	e := wu.Executor()
	if e == nil {
		return nil
	}
	return e.CurrentExecutable()
}

// Abort aborts the whole task on behalf of this unit. The executor bound to
// this unit is not interrupted.
func (wu *WorkUnit) Abort(cause error) error {
	return wu.context.abort(cause, wu.Executor())
}
