package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	// TaskName is the full name of the task the event is about.
	TaskName() string
}

// Topic constants
const (
	TopicQueue = "queue"
	TopicBuild = "build"
)

// Event type constants
const (
	EventTypeItemEntered   = "queue.entered"
	EventTypeItemBlocked   = "queue.blocked"
	EventTypeItemBuildable = "queue.buildable"
	EventTypeItemLeft      = "queue.left"
	EventTypeTaskAccepted  = "build.accepted"
	EventTypeTaskCompleted = "build.completed"
	EventTypeTaskFailed    = "build.failed"
)

// ItemEnteredEvent is published when a new item is added to the queue.
type ItemEnteredEvent struct {
	ItemID    int64
	Task      string
	Timestamp time.Time
}

func (e ItemEnteredEvent) EventType() string { return EventTypeItemEntered }
func (e ItemEnteredEvent) TaskName() string  { return e.Task }

// ItemBlockedEvent is published when the cause of blockage of an item changes.
type ItemBlockedEvent struct {
	ItemID    int64
	Task      string
	Cause     string
	Timestamp time.Time
}

func (e ItemBlockedEvent) EventType() string { return EventTypeItemBlocked }
func (e ItemBlockedEvent) TaskName() string  { return e.Task }

// ItemBuildableEvent is published when an item got a full executor assignment.
type ItemBuildableEvent struct {
	ItemID    int64
	Task      string
	ContextID string
	Executors []string
	Timestamp time.Time
}

func (e ItemBuildableEvent) EventType() string { return EventTypeItemBuildable }
func (e ItemBuildableEvent) TaskName() string  { return e.Task }

// ItemLeftEvent is published when an item leaves the queue, either because
// its executors started or because it was cancelled while waiting.
type ItemLeftEvent struct {
	ItemID    int64
	Task      string
	ContextID string
	Cancelled bool
	Timestamp time.Time
}

func (e ItemLeftEvent) EventType() string { return EventTypeItemLeft }
func (e ItemLeftEvent) TaskName() string  { return e.Task }

// TaskAcceptedEvent is published when every executor of a task passed the
// start barrier.
type TaskAcceptedEvent struct {
	ContextID string
	Task      string
	Node      string
	Executor  string
	Timestamp time.Time
}

func (e TaskAcceptedEvent) EventType() string { return EventTypeTaskAccepted }
func (e TaskAcceptedEvent) TaskName() string  { return e.Task }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ContextID string
	Task      string
	Node      string
	Executor  string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskName() string  { return e.Task }

// TaskFailedEvent is published when a task completes with a problem or is aborted.
type TaskFailedEvent struct {
	ContextID string
	Task      string
	Node      string
	Executor  string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskName() string  { return e.Task }
