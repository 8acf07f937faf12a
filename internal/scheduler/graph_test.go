package scheduler

import (
	"strings"
	"testing"
)

func TestDependencyGraph(t *testing.T) {
	tests := []struct {
		name        string
		tasks       [][2]string // name, comma separated upstream
		wantErr     bool
		errContains string
	}{
		{
			name:  "independent tasks",
			tasks: [][2]string{{"a", ""}, {"b", ""}},
		},
		{
			name:  "linear chain",
			tasks: [][2]string{{"lib", ""}, {"app", "lib"}, {"deploy", "app"}},
		},
		{
			name:  "unknown upstream is ignored",
			tasks: [][2]string{{"app", "missing"}},
		},
		{
			name:        "direct cycle",
			tasks:       [][2]string{{"a", "b"}, {"b", "a"}},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name:        "indirect cycle",
			tasks:       [][2]string{{"a", "c"}, {"b", "a"}, {"c", "b"}},
			wantErr:     true,
			errContains: "cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newDependencyGraph()
			var err error
			for _, task := range tt.tasks {
				var ups []string
				if task[1] != "" {
					ups = strings.Split(task[1], ",")
				}
				if err = g.add(task[0], ups); err != nil {
					break
				}
			}
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDependencyGraphOrderAndRelease(t *testing.T) {
	g := newDependencyGraph()
	_ = g.add("deploy", []string{"app"})
	_ = g.add("app", []string{"lib"})
	_ = g.add("lib", nil)

	order, err := g.order()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	pos := make(map[string]int)
	for i, name := range order {
		pos[name] = i
	}
	if !(pos["lib"] < pos["app"] && pos["app"] < pos["deploy"]) {
		t.Errorf("expected upstream-first order, got %v", order)
	}

	// Two entries of the same task need two releases.
	_ = g.add("lib", nil)
	g.release("lib")
	if !g.has("lib") {
		t.Fatal("lib released too early")
	}
	g.release("lib")
	if g.has("lib") {
		t.Fatal("lib still known after its last release")
	}

	// A rejected add leaves the graph unchanged.
	if err := g.add("lib", []string{"deploy"}); err == nil {
		t.Fatal("expected a cycle through deploy")
	}
	if g.has("lib") {
		t.Error("rejected task must not be added")
	}
}
