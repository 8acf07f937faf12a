package executor

import (
	"sync/atomic"
	"testing"

	"github.com/aristath/buildqueue/internal/scheduler"
)

func TestRegistryAddAndRemove(t *testing.T) {
	var wakes atomic.Int32
	wake := func() { wakes.Add(1) }

	r := NewRegistry()
	for _, name := range []string{"b", "a", "c"} {
		if err := r.Add(NewComputer(name, 2, nil, scheduler.ModeNormal, WithWaker(wake))); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	if err := r.Add(NewComputer("a", 1, nil, scheduler.ModeNormal)); err == nil {
		t.Error("expected duplicate name to be rejected")
	}
	if got := wakes.Load(); got != 3 {
		t.Errorf("expected 3 wakes, got %d", got)
	}

	nodes := r.Nodes()
	if len(nodes) != 3 || nodes[0].Name() != "b" || nodes[2].Name() != "c" {
		t.Fatalf("expected registration order, got %v", names(nodes))
	}

	c, ok := r.Remove("a")
	if !ok {
		t.Fatal("expected a to be removed")
	}
	if c.Online() {
		t.Error("removed computer should be offline")
	}
	if _, ok := r.Get("a"); ok {
		t.Error("removed computer still registered")
	}
	if _, ok := r.Remove("a"); ok {
		t.Error("second remove should report false")
	}
}

func TestComputerExecutors(t *testing.T) {
	c := NewComputer("n1", 0, []string{"linux"}, scheduler.ModeExclusive)
	if len(c.Executors()) != 1 {
		t.Fatalf("expected at least one executor, got %d", len(c.Executors()))
	}
	e := c.Executors()[0]
	if e.DisplayName() != "n1#0" {
		t.Errorf("unexpected display name %q", e.DisplayName())
	}
	if e.Owner() != scheduler.Owner(c) {
		t.Error("executor owner should be its computer")
	}
	if len(c.IdleExecutors()) != 1 || c.CountBusy() != 0 {
		t.Error("new computer should be idle")
	}
	if !e.Since().IsZero() {
		t.Error("idle executor should have no start time")
	}
}

func names(nodes []scheduler.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

func TestStatuses(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(NewComputer("a", 2, nil, scheduler.ModeNormal))
	b := NewComputer("b", 1, nil, scheduler.ModeNormal)
	_ = r.Add(b)
	b.SetOnline(false)

	st := r.Statuses()
	if len(st) != 3 {
		t.Fatalf("expected 3 executors, got %d", len(st))
	}
	if st[0].Name != "a#0" || st[1].Name != "a#1" || st[2].Node != "b" {
		t.Errorf("unexpected order %+v", st)
	}
	if st[2].Online || !st[0].Online {
		t.Error("online state not reported")
	}
	for _, s := range st {
		if s.Busy || s.Task != "" {
			t.Errorf("%s should be idle", s.Name)
		}
	}
}
