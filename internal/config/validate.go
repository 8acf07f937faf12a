package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/aristath/buildqueue/internal/scheduler"
)

// Mode values of NodeConfig.
const (
	ModeNormal    = "normal"
	ModeExclusive = "exclusive"
)

// NodeMode converts the configured mode.
func (n NodeConfig) NodeMode() scheduler.NodeMode {
	if n.Mode == ModeExclusive {
		return scheduler.ModeExclusive
	}
	return scheduler.ModeNormal
}

// Validate checks the nodes and jobs. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	for _, name := range sortedKeys(c.Nodes) {
		n := c.Nodes[name]
		if n.Executors < 1 {
			errs = append(errs, fmt.Errorf("node %q: executors must be at least 1, got %d", name, n.Executors))
		}
		if n.Mode != "" && n.Mode != ModeNormal && n.Mode != ModeExclusive {
			errs = append(errs, fmt.Errorf("node %q: unknown mode %q", name, n.Mode))
		}
	}

	for _, name := range sortedKeys(c.Jobs) {
		j := c.Jobs[name]
		if _, err := scheduler.Label(j.Label).Parse(); err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", name, err))
		}
		for i, argv := range j.Commands {
			if len(argv) == 0 || argv[0] == "" {
				errs = append(errs, fmt.Errorf("job %q: command %d is empty", name, i))
			}
		}
		for axis, values := range j.Axes {
			if len(values) == 0 {
				errs = append(errs, fmt.Errorf("job %q: axis %q has no values", name, axis))
			}
			if axis == LabelAxis {
				for _, v := range values {
					if _, err := scheduler.Label(v).Parse(); err != nil {
						errs = append(errs, fmt.Errorf("job %q: axis %q: %w", name, axis, err))
					}
				}
			}
		}
		for _, up := range j.Upstream {
			if _, ok := c.Jobs[up]; !ok {
				errs = append(errs, fmt.Errorf("job %q: unknown upstream job %q", name, up))
			}
		}
		if j.QuietPeriod < 0 {
			errs = append(errs, fmt.Errorf("job %q: negative quiet period", name))
		}
	}

	if c.Queue.MaintainInterval < 0 || c.Queue.DefaultQuietPeriod < 0 {
		errs = append(errs, errors.New("queue: durations must not be negative"))
	}
	return errors.Join(errs...)
}

// LabelAxis is the matrix axis whose values are label expressions placing
// each configuration on matching nodes.
const LabelAxis = "label"

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
