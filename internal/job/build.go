package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/xid"

	"github.com/aristath/buildqueue/internal/backend"
	"github.com/aristath/buildqueue/internal/scheduler"
)

// Build is one execution of a job or configuration on an executor.
type Build struct {
	id       string
	parent   scheduler.SubTask
	node     string
	dir      string
	commands [][]string
	runner   Runner

	mu     sync.Mutex
	result backend.Result
}

var _ scheduler.Executable = (*Build)(nil)

type named interface {
	Name() string
}

func newBuild(parent scheduler.SubTask, wu *scheduler.WorkUnit, dir string, cmds [][]string, runner Runner) *Build {
	b := &Build{
		id:       xid.New().String(),
		parent:   parent,
		dir:      dir,
		commands: cmds,
		runner:   runner,
	}
	if wu != nil {
		if e := wu.Executor(); e != nil {
			if n, ok := e.Owner().(named); ok {
				b.node = n.Name()
			}
		}
	}
	return b
}

// ID is a sortable unique build id.
func (b *Build) ID() string { return b.id }

func (b *Build) Parent() scheduler.SubTask { return b.parent }

// Node is the name of the node the build runs on, if known.
func (b *Build) Node() string { return b.node }

// Run executes the commands. A build without commands succeeds at once.
func (b *Build) Run(ctx context.Context) error {
	if len(b.commands) == 0 {
		return nil
	}
	if b.runner == nil {
		return fmt.Errorf("%s: no runner configured", b.parent.DisplayName())
	}
	res, err := b.runner.Run(ctx, b.dir, b.commands)
	b.mu.Lock()
	b.result = res
	b.mu.Unlock()
	if err != nil {
		if b.node != "" {
			return fmt.Errorf("%s on %s: %w", b.parent.DisplayName(), b.node, err)
		}
		return fmt.Errorf("%s: %w", b.parent.DisplayName(), err)
	}
	return nil
}

// Result returns the captured output once Run returned.
func (b *Build) Result() backend.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}
