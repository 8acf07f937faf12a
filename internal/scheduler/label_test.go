package scheduler

import "testing"

func TestLabelMatches(t *testing.T) {
	tests := []struct {
		name  string
		label Label
		atoms []string
		want  bool
	}{
		{"empty matches all", "", []string{"linux"}, true},
		{"whitespace matches all", "   ", nil, true},
		{"single atom", "linux", []string{"linux", "docker"}, true},
		{"missing atom", "windows", []string{"linux"}, false},
		{"and", "linux && docker", []string{"linux", "docker"}, true},
		{"and missing", "linux && docker", []string{"linux"}, false},
		{"or", "arm || amd64", []string{"amd64"}, true},
		{"not", "!windows", []string{"linux"}, true},
		{"not present", "!windows", []string{"windows"}, false},
		{"precedence", "a || b && c", []string{"a"}, true},
		{"parentheses", "(a || b) && c", []string{"a"}, false},
		{"nested", "(arm || amd64) && !(windows || mac)", []string{"amd64", "linux"}, true},
		{"no spaces", "linux&&!arm", []string{"linux"}, true},
		{"dashed atoms", "ubuntu-22.04", []string{"ubuntu-22.04"}, true},
		{"parse error matches nothing", "linux &&", []string{"linux"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.label.Matches(tt.atoms); got != tt.want {
				t.Errorf("%q.Matches(%v) = %v, want %v", tt.label, tt.atoms, got, tt.want)
			}
		})
	}
}

func TestLabelParseErrors(t *testing.T) {
	for _, l := range []Label{"linux &&", "|| linux", "(linux", "linux)", "a & b", "!", "()"} {
		if _, err := l.Parse(); err == nil {
			t.Errorf("expected parse error for %q", l)
		}
	}
}

func TestMatchesRequirement(t *testing.T) {
	tests := []struct {
		name   string
		req    Requirement
		node   string
		labels []string
		mode   NodeMode
		want   bool
	}{
		{"pinned node", Requirement{Node: "n1"}, "n1", nil, ModeNormal, true},
		{"pinned other node", Requirement{Node: "n1"}, "n2", nil, ModeNormal, false},
		{"pinned wins over label", Requirement{Node: "n1", Label: "windows"}, "n1", []string{"linux"}, ModeNormal, true},
		{"pinned exclusive", Requirement{Node: "n1"}, "n1", nil, ModeExclusive, true},
		{"node name is an atom", Requirement{Label: "n1"}, "n1", nil, ModeNormal, true},
		{"any on normal", Requirement{}, "n1", nil, ModeNormal, true},
		{"any on exclusive", Requirement{}, "n1", nil, ModeExclusive, false},
		{"label on exclusive", Requirement{Label: "gpu"}, "n1", []string{"gpu"}, ModeExclusive, true},
		{"negation only on exclusive", Requirement{Label: "!windows"}, "n1", []string{"linux"}, ModeExclusive, false},
		{"negation only on normal", Requirement{Label: "!windows"}, "n1", []string{"linux"}, ModeNormal, true},
		{"positive and negated on exclusive", Requirement{Label: "gpu && !arm"}, "n1", []string{"gpu"}, ModeExclusive, true},
		{"other labels on exclusive", Requirement{Label: "linux || !gpu"}, "n1", []string{"gpu"}, ModeExclusive, false},
		{"name on exclusive", Requirement{Label: "n1 || mac"}, "n1", nil, ModeExclusive, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.req, tt.node, tt.labels, tt.mode); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLabelTargets(t *testing.T) {
	atoms := []string{"n1", "linux", "gpu"}
	tests := []struct {
		label Label
		want  bool
	}{
		{"", false},
		{"linux", true},
		{"windows", false},
		{"!windows", false},
		{"!linux", false},
		{"!!linux", true},
		{"!(gpu || arm)", false},
		{"!(!gpu)", true},
		{"windows || (n1 && !arm)", true},
		{"linux &&", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.label), func(t *testing.T) {
			if got := tt.label.Targets(atoms); got != tt.want {
				t.Errorf("Targets(%q) = %v, want %v", tt.label, got, tt.want)
			}
		})
	}
}

func TestCauseDescriptions(t *testing.T) {
	tests := []struct {
		cause *CauseOfBlockage
		kind  CauseKind
		want  string
	}{
		{NodeOffline("n1"), CauseNodeOffline, "'n1' is offline"},
		{NodeBusy("n1"), CauseNodeBusy, "Waiting for next available executor on 'n1'"},
		{LabelOffline("gpu"), CauseLabelOffline, "There are no online nodes with the label 'gpu'"},
		{LabelBusy("gpu"), CauseLabelBusy, "Waiting for next available executor on 'gpu'"},
		{Message("Build #%d is already in progress", 4), CauseMessage, "Build #4 is already in progress"},
	}
	for _, tt := range tests {
		if tt.cause.Kind != tt.kind {
			t.Errorf("%q: expected kind %s, got %s", tt.want, tt.kind, tt.cause.Kind)
		}
		if got := tt.cause.Description(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}

	var none *CauseOfBlockage
	if none.Description() != "" {
		t.Error("nil cause must describe as empty")
	}
}
