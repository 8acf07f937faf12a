package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errTestBusy = errors.New("executor busy")

// testSub is an auxiliary sub-task.
type testSub struct {
	name string
	req  Requirement
}

func (s *testSub) DisplayName() string      { return s.name }
func (s *testSub) Requirement() Requirement { return s.req }
func (s *testSub) CreateExecutable(wu *WorkUnit) (Executable, error) {
	return &testExecutable{parent: s}, nil
}

// testTask is a task with optional sub-tasks.
type testTask struct {
	name       string
	req        Requirement
	subs       []SubTask
	actions    []Action
	concurrent bool
	upstream   []string
}

func (t *testTask) DisplayName() string      { return t.name }
func (t *testTask) Requirement() Requirement { return t.req }
func (t *testTask) CreateExecutable(wu *WorkUnit) (Executable, error) {
	return &testExecutable{parent: t}, nil
}
func (t *testTask) FullName() string             { return t.name }
func (t *testTask) SubTasks() []SubTask          { return t.subs }
func (t *testTask) Actions() []Action            { return t.actions }
func (t *testTask) AllowsConcurrentBuilds() bool { return t.concurrent }
func (t *testTask) Upstream() []string           { return t.upstream }

func newTask(name string, label Label, subLabels ...Label) *testTask {
	t := &testTask{name: name, req: Requirement{Label: label}}
	for i, l := range subLabels {
		t.subs = append(t.subs, &testSub{name: name + "/" + string(rune('a'+i)), req: Requirement{Label: l}})
	}
	return t
}

type testExecutable struct {
	parent SubTask
}

func (e *testExecutable) Parent() SubTask               { return e.parent }
func (e *testExecutable) Run(ctx context.Context) error { return nil }

// testOwner counts owner notifications.
type testOwner struct {
	accepted  atomic.Int32
	completed atomic.Int32
	failed    atomic.Int32

	mu       sync.Mutex
	problems []error
	acceptor []Executor
}

func (o *testOwner) TaskAccepted(e Executor, t Task) {
	o.accepted.Add(1)
	o.mu.Lock()
	o.acceptor = append(o.acceptor, e)
	o.mu.Unlock()
}

func (o *testOwner) TaskCompleted(e Executor, t Task, d time.Duration) {
	o.completed.Add(1)
}

func (o *testOwner) TaskCompletedWithProblems(e Executor, t Task, d time.Duration, problem error) {
	o.failed.Add(1)
	o.mu.Lock()
	o.problems = append(o.problems, problem)
	o.mu.Unlock()
}

// testExecutor runs the work-unit protocol in a goroutine. With manual set,
// Accept only records the unit. With hold set, the work blocks until hold is
// closed or the executor is interrupted; fail is returned as the work result.
type testExecutor struct {
	name   string
	owner  Owner
	manual bool
	hold   chan struct{}
	fail   error
	refuse error

	interrupts atomic.Int32
	finished   chan struct{}

	mu       sync.Mutex
	busy     bool
	cancel   context.CancelCauseFunc
	accepted []*WorkUnit
	current  Executable
}

func newExecutor(name string, owner Owner) *testExecutor {
	return &testExecutor{name: name, owner: owner, finished: make(chan struct{}, 64)}
}

func (e *testExecutor) DisplayName() string { return e.name }
func (e *testExecutor) Owner() Owner        { return e.owner }

func (e *testExecutor) Accept(wu *WorkUnit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refuse != nil {
		return e.refuse
	}
	if e.busy {
		return errTestBusy
	}
	e.busy = true
	e.accepted = append(e.accepted, wu)
	if e.manual {
		return nil
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	e.cancel = cancel
	go e.run(ctx, wu)
	return nil
}

func (e *testExecutor) run(ctx context.Context, wu *WorkUnit) {
	runUnit(ctx, wu, func(ctx context.Context) error {
		if e.hold == nil {
			return e.fail
		}
		select {
		case <-e.hold:
			return e.fail
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	})
	e.mu.Lock()
	e.busy = false
	if e.cancel != nil {
		e.cancel(nil)
		e.cancel = nil
	}
	e.mu.Unlock()
	e.finished <- struct{}{}
}

// occupy marks the executor busy without giving it work.
func (e *testExecutor) occupy() {
	e.mu.Lock()
	e.busy = true
	e.mu.Unlock()
}

// release makes a manual executor idle again.
func (e *testExecutor) release() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

func (e *testExecutor) Interrupt(cause error) {
	e.interrupts.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel(cause)
	}
}

func (e *testExecutor) CurrentExecutable() Executable {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *testExecutor) idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.busy
}

func (e *testExecutor) units() []*WorkUnit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*WorkUnit(nil), e.accepted...)
}

// runUnit is the executor side of the protocol: start barrier, work, abort
// on failure, end barrier.
func runUnit(ctx context.Context, wu *WorkUnit, work func(context.Context) error) error {
	wuc := wu.Context()
	start := time.Now()
	var exec Executable
	problem := wuc.SynchronizeStart(ctx, wu)
	if problem == nil {
		exec, problem = wu.Work().CreateExecutable(wu)
		if problem == nil {
			problem = work(ctx)
		}
		if problem != nil {
			_ = wu.Abort(problem)
		}
	}
	return wuc.SynchronizeEnd(ctx, wu, exec, problem, time.Since(start))
}

// testNode is a node with a fixed set of executors.
type testNode struct {
	name      string
	labels    []string
	mode      NodeMode
	offline   atomic.Bool
	executors []*testExecutor
}

func newNode(name string, owner Owner, executors int, labels ...string) *testNode {
	n := &testNode{name: name, labels: labels}
	for i := 0; i < executors; i++ {
		n.executors = append(n.executors, newExecutor(name+"#"+string(rune('0'+i)), owner))
	}
	return n
}

// manualNode is a node whose executors only record accepted units.
func manualNode(name string, executors int, labels ...string) *testNode {
	n := newNode(name, &testOwner{}, executors, labels...)
	for _, e := range n.executors {
		e.manual = true
	}
	return n
}

func (n *testNode) Name() string     { return n.name }
func (n *testNode) Labels() []string { return n.labels }
func (n *testNode) Mode() NodeMode   { return n.mode }
func (n *testNode) Online() bool     { return !n.offline.Load() }

func (n *testNode) IdleExecutors() []Executor {
	var out []Executor
	for _, e := range n.executors {
		if e.idle() {
			out = append(out, e)
		}
	}
	return out
}

type testRegistry struct {
	mu    sync.Mutex
	nodes []Node
}

func (r *testRegistry) Nodes() []Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Node(nil), r.nodes...)
}

func (r *testRegistry) add(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, n)
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestItem builds an item outside of a queue.
func newTestItem(task Task) *Item {
	return &Item{id: 1, task: task, future: newFuture(), inQueueSince: time.Now(), actions: task.Actions()}
}

// waitFor polls cond until it holds or fails the test after a second.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}
