package scheduler

import "time"

// ItemState is the scheduling state of a queue item.
type ItemState int

const (
	StateWaiting   ItemState = iota // Enqueued, not evaluated yet or in its quiet period
	StateBlocked                    // Evaluated, not buildable, carries a cause
	StateBuildable                  // A full executor assignment exists
	StatePending                    // Context created, executors assigned, start barrier not open
	StateLeft                       // Running, or removed while waiting
)

// String returns the lower-case state name.
func (s ItemState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateBlocked:
		return "blocked"
	case StateBuildable:
		return "buildable"
	case StatePending:
		return "pending"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Item is a task plus its queue metadata. Mutable fields are guarded by the
// owning Queue's lock; read them through Queue methods or Info snapshots.
type Item struct {
	id           int64
	task         Task
	future       *Future
	inQueueSince time.Time

	actions   []Action
	notBefore time.Time
	state     ItemState
	cause     *CauseOfBlockage
	wuc       *WorkUnitContext
}

// ID is the queue-unique id of the item.
func (it *Item) ID() int64 { return it.id }

// Task returns the queued task.
func (it *Item) Task() Task { return it.task }

// Future returns the outcome holder of the item.
func (it *Item) Future() *Future { return it.future }

// InQueueSince returns the enqueue time.
func (it *Item) InQueueSince() time.Time { return it.inQueueSince }

// ItemInfo is a point-in-time snapshot of an Item.
type ItemInfo struct {
	ID           int64
	TaskName     string
	State        ItemState
	Cause        *CauseOfBlockage
	InQueueSince time.Time
	NotBefore    time.Time
	Actions      []Action
	ContextID    string
}

// Why returns the cause description, or "" if the item is not blocked.
func (i ItemInfo) Why() string { return i.Cause.Description() }

func (it *Item) info() ItemInfo {
	info := ItemInfo{
		ID:           it.id,
		TaskName:     it.task.FullName(),
		State:        it.state,
		InQueueSince: it.inQueueSince,
		NotBefore:    it.notBefore,
		Actions:      append([]Action(nil), it.actions...),
	}
	if it.cause != nil {
		c := *it.cause
		info.Cause = &c
	}
	if it.wuc != nil {
		info.ContextID = it.wuc.id
	}
	return info
}
