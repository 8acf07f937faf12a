package scheduler

import "fmt"

// CauseKind identifies the reason family of a CauseOfBlockage.
type CauseKind int

const (
	CauseMessage      CauseKind = iota // Free-form reason
	CauseNodeOffline                   // Pinned node is missing or offline
	CauseNodeBusy                      // Pinned node has no idle executor
	CauseLabelOffline                  // No online node carries the label
	CauseLabelBusy                     // Matching nodes exist but all executors are busy
)

// String returns a short name for the kind.
func (k CauseKind) String() string {
	switch k {
	case CauseNodeOffline:
		return "node-offline"
	case CauseNodeBusy:
		return "node-busy"
	case CauseLabelOffline:
		return "label-offline"
	case CauseLabelBusy:
		return "label-busy"
	default:
		return "message"
	}
}

// CauseOfBlockage describes why a queue item cannot be built right now.
// It is recomputed on every scheduling pass and never triggers retries by itself.
type CauseOfBlockage struct {
	Kind    CauseKind
	Node    string
	Label   Label
	Message string
}

// NodeOffline reports that the node a task is pinned to is offline.
func NodeOffline(node string) *CauseOfBlockage {
	return &CauseOfBlockage{Kind: CauseNodeOffline, Node: node}
}

// NodeBusy reports that the node a task is pinned to has no idle executor.
func NodeBusy(node string) *CauseOfBlockage {
	return &CauseOfBlockage{Kind: CauseNodeBusy, Node: node}
}

// LabelOffline reports that no online node carries the label.
func LabelOffline(label Label) *CauseOfBlockage {
	return &CauseOfBlockage{Kind: CauseLabelOffline, Label: label}
}

// LabelBusy reports that every node carrying the label is busy.
func LabelBusy(label Label) *CauseOfBlockage {
	return &CauseOfBlockage{Kind: CauseLabelBusy, Label: label}
}

// Message creates a free-form cause.
func Message(format string, args ...any) *CauseOfBlockage {
	return &CauseOfBlockage{Kind: CauseMessage, Message: fmt.Sprintf(format, args...)}
}

// Description renders the cause as status text.
func (c *CauseOfBlockage) Description() string {
	if c == nil {
		return ""
	}
	switch c.Kind {
	case CauseNodeOffline:
		return fmt.Sprintf("'%s' is offline", c.Node)
	case CauseNodeBusy:
		return fmt.Sprintf("Waiting for next available executor on '%s'", c.Node)
	case CauseLabelOffline:
		return fmt.Sprintf("There are no online nodes with the label '%s'", c.Label)
	case CauseLabelBusy:
		return fmt.Sprintf("Waiting for next available executor on '%s'", c.Label)
	default:
		return c.Message
	}
}

func (c *CauseOfBlockage) String() string { return c.Description() }
