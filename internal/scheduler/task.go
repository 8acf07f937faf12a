package scheduler

import (
	"context"
	"time"
)

// Requirement is the resource requirement of a SubTask.
// A non-empty Node pins the sub-task to that node and takes precedence over Label.
type Requirement struct {
	Node  string
	Label Label
}

// String renders the requirement for logs and causes.
func (r Requirement) String() string {
	if r.Node != "" {
		return r.Node
	}
	if r.Label.IsAny() {
		return "any"
	}
	return string(r.Label)
}

// SubTask is one schedulable fragment of a Task. Each requires exactly one executor.
// Sub-tasks are compared by identity, so implementations should be pointer types.
type SubTask interface {
	DisplayName() string
	Requirement() Requirement
	// CreateExecutable is called by the executor that picked up wu.
	CreateExecutable(wu *WorkUnit) (Executable, error)
}

// Task is the unit of work a user or trigger requests. A Task is itself its
// main SubTask; SubTasks returns the auxiliary ones (it may include the task
// itself, which is ignored).
type Task interface {
	SubTask
	// FullName identifies the task across queue entries.
	FullName() string
	SubTasks() []SubTask
	Actions() []Action
}

// ConcurrentTask is implemented by tasks that may run more than once at a time.
type ConcurrentTask interface {
	AllowsConcurrentBuilds() bool
}

// UpstreamTask is implemented by tasks that must not start while any of the
// named upstream tasks is queued or running.
type UpstreamTask interface {
	Upstream() []string
}

// Action is a name/value pair attached to a queued task (parameters, causes).
type Action struct {
	Name  string
	Value string
}

// Executable is the running form of a SubTask on one executor.
type Executable interface {
	Parent() SubTask
	Run(ctx context.Context) error
}

// SubTasksOf returns every sub-task of t, main work first, each once.
func SubTasksOf(t Task) []SubTask {
	out := []SubTask{t}
	seen := map[SubTask]bool{t: true}
	for _, st := range t.SubTasks() {
		if st == nil || seen[st] {
			continue
		}
		seen[st] = true
		out = append(out, st)
	}
	return out
}

// Owner is the executor pool an Executor belongs to (the node's computer).
// It receives the notifications of the work-unit protocol.
type Owner interface {
	TaskAccepted(e Executor, t Task)
	TaskCompleted(e Executor, t Task, d time.Duration)
	TaskCompletedWithProblems(e Executor, t Task, d time.Duration, problem error)
}

// Executor is one worker slot capable of running one WorkUnit at a time.
type Executor interface {
	DisplayName() string
	Owner() Owner
	// Accept hands wu over for execution without blocking. It fails if the
	// executor cannot take work any more.
	Accept(wu *WorkUnit) error
	// Interrupt signals the running work to stop. It must not block.
	Interrupt(cause error)
	// CurrentExecutable returns the executable being run, or nil.
	CurrentExecutable() Executable
}

// NodeMode controls which work a node accepts.
type NodeMode int

const (
	ModeNormal    NodeMode = iota // Accept any matching work
	ModeExclusive                 // Only work that targets the node by label or name
)

// Node is the queue's view of one node.
type Node interface {
	Name() string
	Labels() []string
	Mode() NodeMode
	Online() bool
	// IdleExecutors returns executors that can accept work right now.
	IdleExecutors() []Executor
}

// NodeRegistry supplies the nodes known to the system.
type NodeRegistry interface {
	Nodes() []Node
}

// Matches reports whether a node with the given name, labels and mode
// satisfies req. The node name is always one of its label atoms. An
// exclusive node also needs the label to name one of its atoms outside a
// negation.
func Matches(req Requirement, name string, labels []string, mode NodeMode) bool {
	if req.Node != "" {
		return req.Node == name
	}
	atoms := make([]string, 0, len(labels)+1)
	atoms = append(atoms, name)
	atoms = append(atoms, labels...)
	if mode == ModeExclusive && !req.Label.Targets(atoms) {
		return false
	}
	return req.Label.Matches(atoms)
}
