package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/buildqueue/internal/scheduler"
)

// Registry is the set of known computers, in registration order.
type Registry struct {
	mu        sync.RWMutex
	computers []*Computer
}

var _ scheduler.NodeRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers c. Names must be unique.
func (r *Registry) Add(c *Computer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.computers {
		if other.name == c.name {
			return fmt.Errorf("computer %q already registered", c.name)
		}
	}
	r.computers = append(r.computers, c)
	c.notifyIdle()
	return nil
}

// Remove takes the computer offline and forgets it.
func (r *Registry) Remove(name string) (*Computer, bool) {
	r.mu.Lock()
	var removed *Computer
	for i, c := range r.computers {
		if c.name == name {
			removed = c
			r.computers = append(r.computers[:i], r.computers[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if removed == nil {
		return nil, false
	}
	removed.SetOnline(false)
	return removed, true
}

// Get looks a computer up by name.
func (r *Registry) Get(name string) (*Computer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.computers {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// Computers returns every registered computer.
func (r *Registry) Computers() []*Computer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Computer(nil), r.computers...)
}

// Nodes returns the computers as scheduler nodes.
func (r *Registry) Nodes() []scheduler.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make([]scheduler.Node, len(r.computers))
	for i, c := range r.computers {
		nodes[i] = c
	}
	return nodes
}

// Status is a snapshot of one executor for display.
type Status struct {
	Name   string
	Node   string
	Online bool
	Busy   bool
	Task   string // Display name of the sub-task being run
	Since  time.Time
}

// Statuses returns the state of every executor, computer by computer.
func (r *Registry) Statuses() []Status {
	var out []Status
	for _, c := range r.Computers() {
		online := c.Online()
		for _, e := range c.Executors() {
			st := Status{Name: e.DisplayName(), Node: c.name, Online: online}
			if wu := e.Unit(); wu != nil {
				st.Busy = true
				st.Task = wu.Work().DisplayName()
				st.Since = e.Since()
			}
			out = append(out, st)
		}
	}
	return out
}
