package job

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/buildqueue/internal/config"
)

// ErrUnknownJob is returned for names that are not in the catalog.
var ErrUnknownJob = errors.New("unknown job")

// Catalog holds the configured jobs by name.
type Catalog struct {
	jobs map[string]*Job
}

// NewCatalog builds every configured job. Jobs without their own quiet
// period use defaultQuiet.
func NewCatalog(jobs map[string]config.JobConfig, runner Runner, defaultQuiet time.Duration) (*Catalog, error) {
	c := &Catalog{jobs: make(map[string]*Job, len(jobs))}
	for name, cfg := range jobs {
		j, err := New(name, cfg, runner)
		if err != nil {
			return nil, err
		}
		if cfg.QuietPeriod == 0 {
			j.quiet = defaultQuiet
		}
		c.jobs[name] = j
	}
	for name, j := range c.jobs {
		for _, up := range j.upstream {
			if _, ok := c.jobs[up]; !ok {
				return nil, fmt.Errorf("job %s: upstream %s: %w", name, up, ErrUnknownJob)
			}
		}
	}
	return c, nil
}

// Get looks a job up by name.
func (c *Catalog) Get(name string) (*Job, error) {
	j, ok := c.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownJob)
	}
	return j, nil
}

// Names returns the job names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.jobs))
	for name := range c.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len is the number of jobs.
func (c *Catalog) Len() int { return len(c.jobs) }
