package executor

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/aristath/buildqueue/internal/events"
	"github.com/aristath/buildqueue/internal/persistence"
	"github.com/aristath/buildqueue/internal/scheduler"
)

// recordTimeout bounds a single history write from an owner callback.
const recordTimeout = 5 * time.Second

// Recorder stores the outcome of finished builds.
type Recorder interface {
	RecordBuild(ctx context.Context, rec persistence.BuildRecord) error
}

// Identified is implemented by executables that carry a build id.
type Identified interface {
	ID() string
}

// Computer is one node: a set of executors sharing labels and an online
// state. It is the Owner of its executors and turns the work-unit
// notifications into events and build records.
type Computer struct {
	name      string
	labels    []string
	mode      scheduler.NodeMode
	online    atomic.Bool
	executors []*Executor

	publisher scheduler.Publisher
	recorder  Recorder
	wake      func()
}

var (
	_ scheduler.Node  = (*Computer)(nil)
	_ scheduler.Owner = (*Computer)(nil)
)

// Option configures a Computer.
type Option func(*Computer)

// WithPublisher sends build events to p.
func WithPublisher(p scheduler.Publisher) Option {
	return func(c *Computer) { c.publisher = p }
}

// WithRecorder stores finished builds through r.
func WithRecorder(r Recorder) Option {
	return func(c *Computer) { c.recorder = r }
}

// WithWaker is called whenever an executor of the computer becomes idle or
// the computer comes online, typically Queue.Wake.
func WithWaker(wake func()) Option {
	return func(c *Computer) { c.wake = wake }
}

// NewComputer creates an online computer with n executors (at least one).
func NewComputer(name string, n int, labels []string, mode scheduler.NodeMode, opts ...Option) *Computer {
	if n < 1 {
		n = 1
	}
	c := &Computer{
		name:   name,
		labels: append([]string(nil), labels...),
		mode:   mode,
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := 0; i < n; i++ {
		c.executors = append(c.executors, &Executor{computer: c, number: i})
	}
	c.online.Store(true)
	return c
}

func (c *Computer) Name() string             { return c.name }
func (c *Computer) Labels() []string         { return append([]string(nil), c.labels...) }
func (c *Computer) Mode() scheduler.NodeMode { return c.mode }
func (c *Computer) Online() bool             { return c.online.Load() }

// SetOnline changes the online state. Going offline interrupts every busy
// executor with ErrNodeOffline.
func (c *Computer) SetOnline(online bool) {
	if c.online.Swap(online) == online {
		return
	}
	if online {
		c.notifyIdle()
		return
	}
	for _, e := range c.executors {
		e.Interrupt(ErrNodeOffline)
	}
}

// Executors returns every executor of the computer.
func (c *Computer) Executors() []*Executor {
	return append([]*Executor(nil), c.executors...)
}

// IdleExecutors returns the executors that can take work now. An offline
// computer has none.
func (c *Computer) IdleExecutors() []scheduler.Executor {
	if !c.Online() {
		return nil
	}
	var idle []scheduler.Executor
	for _, e := range c.executors {
		if !e.Busy() {
			idle = append(idle, e)
		}
	}
	return idle
}

// CountBusy returns how many executors run a work unit.
func (c *Computer) CountBusy() int {
	n := 0
	for _, e := range c.executors {
		if e.Busy() {
			n++
		}
	}
	return n
}

func (c *Computer) notifyIdle() {
	if c.wake != nil {
		c.wake()
	}
}

// TaskAccepted is called once per task, for the executor of its main work.
func (c *Computer) TaskAccepted(e scheduler.Executor, t scheduler.Task) {
	c.publish(events.TopicBuild, events.TaskAcceptedEvent{
		ContextID: contextID(e),
		Task:      t.FullName(),
		Node:      c.name,
		Executor:  e.DisplayName(),
		Timestamp: time.Now(),
	})
}

// TaskCompleted is called once per successful task.
func (c *Computer) TaskCompleted(e scheduler.Executor, t scheduler.Task, d time.Duration) {
	c.publish(events.TopicBuild, events.TaskCompletedEvent{
		ContextID: contextID(e),
		Task:      t.FullName(),
		Node:      c.name,
		Executor:  e.DisplayName(),
		Duration:  d,
		Timestamp: time.Now(),
	})
	c.record(e, t, d, nil)
}

// TaskCompletedWithProblems is called once per failed or aborted task.
func (c *Computer) TaskCompletedWithProblems(e scheduler.Executor, t scheduler.Task, d time.Duration, problem error) {
	c.publish(events.TopicBuild, events.TaskFailedEvent{
		ContextID: contextID(e),
		Task:      t.FullName(),
		Node:      c.name,
		Executor:  e.DisplayName(),
		Err:       problem,
		Duration:  d,
		Timestamp: time.Now(),
	})
	c.record(e, t, d, problem)
}

func (c *Computer) record(e scheduler.Executor, t scheduler.Task, d time.Duration, problem error) {
	if c.recorder == nil {
		return
	}
	rec := persistence.BuildRecord{
		ContextID:  contextID(e),
		TaskName:   t.FullName(),
		Node:       c.name,
		Result:     persistence.ResultSuccess,
		Duration:   d,
		FinishedAt: time.Now(),
	}
	if id, ok := e.CurrentExecutable().(Identified); ok {
		rec.ExecutableID = id.ID()
	}
	if problem != nil {
		rec.Problem = problem.Error()
		rec.Result = persistence.ResultFailure
		// Every failure surfaces as an abort; only outside stops count as aborted.
		if errors.Is(problem, scheduler.ErrCancelled) || errors.Is(problem, ErrNodeOffline) {
			rec.Result = persistence.ResultAborted
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.recorder.RecordBuild(ctx, rec); err != nil {
		log.Printf("WARNING: failed to record build of %s on %s: %v", rec.TaskName, c.name, err)
	}
}

func (c *Computer) publish(topic string, e events.Event) {
	if c.publisher != nil {
		c.publisher.Publish(topic, e)
	}
}

func contextID(e scheduler.Executor) string {
	if ex, ok := e.(*Executor); ok {
		if wu := ex.Unit(); wu != nil {
			return wu.Context().ID()
		}
	}
	return ""
}
