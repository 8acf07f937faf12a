package job

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/buildqueue/internal/backend"
	"github.com/aristath/buildqueue/internal/config"
	"github.com/aristath/buildqueue/internal/scheduler"
)

// Runner executes a command list in a directory. *backend.Shell is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, dir string, cmds [][]string) (backend.Result, error)
}

// Job is a configured build. Without matrix axes the job runs its commands
// on one executor. With axes every combination of axis values becomes a
// Configuration sub-task that runs the commands with ${axis} references
// expanded, and the job itself only coordinates them.
type Job struct {
	name       string
	dir        string
	label      scheduler.Label
	commands   [][]string
	upstream   []string
	concurrent bool
	quiet      time.Duration

	configurations []*Configuration
	runner         Runner
}

var (
	_ scheduler.Task           = (*Job)(nil)
	_ scheduler.ConcurrentTask = (*Job)(nil)
	_ scheduler.UpstreamTask   = (*Job)(nil)
)

// New builds a job from its configuration.
func New(name string, cfg config.JobConfig, runner Runner) (*Job, error) {
	if name == "" {
		return nil, fmt.Errorf("job without name: %w", scheduler.ErrInvalidArgument)
	}
	label := scheduler.Label(cfg.Label)
	if _, err := label.Parse(); err != nil {
		return nil, fmt.Errorf("job %s: %w", name, err)
	}
	j := &Job{
		name:       name,
		dir:        cfg.Dir,
		label:      label,
		commands:   cloneCommands(cfg.Commands),
		upstream:   append([]string(nil), cfg.Upstream...),
		concurrent: cfg.Concurrent,
		quiet:      cfg.QuietPeriod.Std(),
		runner:     runner,
	}
	for _, cell := range combinations(cfg.Axes) {
		c, err := newConfiguration(j, cell)
		if err != nil {
			return nil, err
		}
		j.configurations = append(j.configurations, c)
	}
	return j, nil
}

func (j *Job) DisplayName() string { return j.name }
func (j *Job) FullName() string    { return j.name }

// Requirement places the job's own work.
func (j *Job) Requirement() scheduler.Requirement {
	return scheduler.Requirement{Label: j.label}
}

// SubTasks returns the matrix configurations.
func (j *Job) SubTasks() []scheduler.SubTask {
	subs := make([]scheduler.SubTask, len(j.configurations))
	for i, c := range j.configurations {
		subs[i] = c
	}
	return subs
}

// Configurations returns the matrix cells, in axis order.
func (j *Job) Configurations() []*Configuration {
	return append([]*Configuration(nil), j.configurations...)
}

func (j *Job) Actions() []scheduler.Action  { return nil }
func (j *Job) AllowsConcurrentBuilds() bool { return j.concurrent }
func (j *Job) Upstream() []string           { return append([]string(nil), j.upstream...) }
func (j *Job) QuietPeriod() time.Duration   { return j.quiet }
func (j *Job) IsMatrix() bool               { return len(j.configurations) > 0 }

// CreateExecutable runs the job's commands, or nothing for a matrix job.
func (j *Job) CreateExecutable(wu *scheduler.WorkUnit) (scheduler.Executable, error) {
	var cmds [][]string
	if !j.IsMatrix() {
		cmds = j.commands
	}
	return newBuild(j, wu, j.dir, cmds, j.runner), nil
}

// Configuration is one matrix cell of a job.
type Configuration struct {
	job      *Job
	name     string
	values   []axisValue
	label    scheduler.Label
	commands [][]string
}

type axisValue struct {
	axis  string
	value string
}

func newConfiguration(j *Job, cell []axisValue) (*Configuration, error) {
	parts := make([]string, len(cell))
	pairs := make([]string, 0, 2*len(cell))
	c := &Configuration{job: j, values: cell, label: j.label}
	for i, v := range cell {
		parts[i] = v.axis + "=" + v.value
		pairs = append(pairs, "${"+v.axis+"}", v.value)
		if v.axis == config.LabelAxis {
			c.label = scheduler.Label(v.value)
		}
	}
	if _, err := c.label.Parse(); err != nil {
		return nil, fmt.Errorf("job %s: %w", j.name, err)
	}
	c.name = j.name + "/" + strings.Join(parts, ",")

	r := strings.NewReplacer(pairs...)
	c.commands = make([][]string, len(j.commands))
	for i, argv := range j.commands {
		c.commands[i] = make([]string, len(argv))
		for k, arg := range argv {
			c.commands[i][k] = r.Replace(arg)
		}
	}
	return c, nil
}

// DisplayName is "<job>/<axis>=<value>,...".
func (c *Configuration) DisplayName() string { return c.name }

// Job returns the matrix job the cell belongs to.
func (c *Configuration) Job() *Job { return c.job }

// Value returns the cell's value on axis.
func (c *Configuration) Value(axis string) (string, bool) {
	for _, v := range c.values {
		if v.axis == axis {
			return v.value, true
		}
	}
	return "", false
}

// Requirement uses the cell's label axis value, or the job label.
func (c *Configuration) Requirement() scheduler.Requirement {
	return scheduler.Requirement{Label: c.label}
}

// Commands returns the expanded commands of the cell.
func (c *Configuration) Commands() [][]string { return cloneCommands(c.commands) }

func (c *Configuration) CreateExecutable(wu *scheduler.WorkUnit) (scheduler.Executable, error) {
	return newBuild(c, wu, c.job.dir, c.commands, c.job.runner), nil
}

// combinations returns the cartesian product of the axes, axis names sorted.
func combinations(axes map[string][]string) [][]axisValue {
	if len(axes) == 0 {
		return nil
	}
	names := make([]string, 0, len(axes))
	for name := range axes {
		names = append(names, name)
	}
	sort.Strings(names)

	cells := [][]axisValue{nil}
	for _, name := range names {
		var next [][]axisValue
		for _, cell := range cells {
			for _, v := range axes[name] {
				c := append(append([]axisValue(nil), cell...), axisValue{axis: name, value: v})
				next = append(next, c)
			}
		}
		cells = next
	}
	return cells
}

func cloneCommands(cmds [][]string) [][]string {
	out := make([][]string, len(cmds))
	for i, argv := range cmds {
		out[i] = append([]string(nil), argv...)
	}
	return out
}
