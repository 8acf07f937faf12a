package scheduler

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// dependencyGraph tracks upstream relations between the tasks currently known
// to the queue (waiting, pending or running). It is guarded by the Queue lock.
type dependencyGraph struct {
	upstream map[string][]string // task name -> upstream task names
	refs     map[string]int      // task name -> live queue entries
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{
		upstream: make(map[string][]string),
		refs:     make(map[string]int),
	}
}

// add registers one more entry for name. The first entry of a name installs
// its upstream edges; if they would close a cycle, nothing is changed.
func (g *dependencyGraph) add(name string, upstream []string) error {
	if g.refs[name] > 0 {
		g.refs[name]++
		return nil
	}
	g.upstream[name] = append([]string(nil), upstream...)
	g.refs[name] = 1
	if _, err := g.order(); err != nil {
		delete(g.upstream, name)
		delete(g.refs, name)
		return err
	}
	return nil
}

// release drops one entry for name.
func (g *dependencyGraph) release(name string) {
	if g.refs[name] == 0 {
		return
	}
	g.refs[name]--
	if g.refs[name] == 0 {
		delete(g.refs, name)
		delete(g.upstream, name)
	}
}

func (g *dependencyGraph) has(name string) bool {
	return g.refs[name] > 0
}

// order returns the known tasks upstream-first, or an error on a cycle.
// Edges to tasks that are not known are ignored.
func (g *dependencyGraph) order() ([]string, error) {
	var edges []toposort.Edge
	for name, ups := range g.upstream {
		linked := false
		for _, up := range ups {
			if _, ok := g.upstream[up]; !ok {
				continue
			}
			// Edge (up, name) means up must come before name
			edges = append(edges, toposort.Edge{up, name})
			linked = true
		}
		if !linked {
			edges = append(edges, toposort.Edge{nil, name})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("upstream dependencies contain a cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(g.upstream) {
		var missing []string
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for name := range g.upstream {
			if !found[name] {
				missing = append(missing, name)
			}
		}
		return nil, fmt.Errorf("upstream dependencies lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}
	return order, nil
}
