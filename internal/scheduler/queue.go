package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aristath/buildqueue/internal/events"
)

const defaultMaintainInterval = 5 * time.Second

// Publisher receives queue lifecycle events. *events.EventBus satisfies it.
type Publisher interface {
	Publish(topic string, event events.Event)
}

// Dispatcher can veto scheduling decisions. A nil cause means no objection.
type Dispatcher interface {
	// CanRun is consulted once per pass for every item.
	CanRun(item ItemInfo) *CauseOfBlockage
	// CanTake is consulted for every node an item's sub-task could go to.
	CanTake(node Node, item ItemInfo) *CauseOfBlockage
}

// Option configures a Queue.
type Option func(*Queue)

// WithPublisher sends queue events to p.
func WithPublisher(p Publisher) Option {
	return func(q *Queue) { q.publisher = p }
}

// WithDispatcher adds a veto extension.
func WithDispatcher(d Dispatcher) Option {
	return func(q *Queue) { q.dispatchers = append(q.dispatchers, d) }
}

// WithClock replaces time.Now, mostly for quiet-period tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithMaintainInterval sets how often Run evaluates the queue without a wake-up.
func WithMaintainInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.interval = d
		}
	}
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	quiet   time.Duration
	actions []Action
}

// WithQuietPeriod keeps the item waiting for d before it is considered.
func WithQuietPeriod(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.quiet = d }
}

// WithActions attaches actions in addition to the task's own.
func WithActions(actions ...Action) EnqueueOption {
	return func(o *enqueueOptions) { o.actions = append(o.actions, actions...) }
}

// Queue holds tasks until every one of their sub-tasks can be given an idle
// executor, then admits them as a WorkUnitContext. Items are evaluated in
// enqueue order, so an earlier item gets first claim on a scarce executor.
type Queue struct {
	registry    NodeRegistry
	publisher   Publisher
	dispatchers []Dispatcher
	now         func() time.Time
	interval    time.Duration
	wake        chan struct{}

	// pass serialises scheduling passes from claiming idle executors through
	// handing them their work units.
	pass sync.Mutex

	mu      sync.Mutex
	nextID  int64
	items   []*Item        // every item not Left, in enqueue order
	running map[string]int // task name -> admitted contexts not resolved yet
	graph   *dependencyGraph
}

// NewQueue creates a queue that matches work against the nodes of registry.
func NewQueue(registry NodeRegistry, opts ...Option) *Queue {
	q := &Queue{
		registry: registry,
		now:      time.Now,
		interval: defaultMaintainInterval,
		wake:     make(chan struct{}, 1),
		running:  make(map[string]int),
		graph:    newDependencyGraph(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds task to the queue and returns its item. If the task already
// has an item that was not admitted yet, that item is returned instead: the
// new actions are appended and the quiet period is extended if it ends later.
func (q *Queue) Enqueue(task Task, opts ...EnqueueOption) (*Item, error) {
	if task == nil {
		return nil, fmt.Errorf("enqueue nil task: %w", ErrInvalidArgument)
	}
	for _, st := range SubTasksOf(task) {
		if _, err := st.Requirement().Label.Parse(); err != nil {
			return nil, fmt.Errorf("enqueue %s: %v: %w", task.FullName(), err, ErrInvalidArgument)
		}
	}
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	q.mu.Lock()
	now := q.now()
	notBefore := time.Time{}
	if o.quiet > 0 {
		notBefore = now.Add(o.quiet)
	}

	name := task.FullName()
	for _, it := range q.items {
		if it.task.FullName() != name || it.state == StatePending {
			continue
		}
		it.actions = append(it.actions, o.actions...)
		if notBefore.After(it.notBefore) {
			it.notBefore = notBefore
		}
		q.mu.Unlock()
		return it, nil
	}

	var upstream []string
	if ut, ok := task.(UpstreamTask); ok {
		upstream = ut.Upstream()
	}
	if err := q.graph.add(name, upstream); err != nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("enqueue %s: %v: %w", name, err, ErrInvalidArgument)
	}

	q.nextID++
	it := &Item{
		id:           q.nextID,
		task:         task,
		future:       newFuture(),
		inQueueSince: now,
		actions:      append(append([]Action(nil), task.Actions()...), o.actions...),
		notBefore:    notBefore,
		state:        StateWaiting,
	}
	it.future.canceller = func() bool { return q.Cancel(it) }
	q.items = append(q.items, it)
	q.mu.Unlock()

	q.publish(events.TopicQueue, events.ItemEnteredEvent{
		ItemID:    it.id,
		Task:      name,
		Timestamp: now,
	})
	q.Wake()
	return it, nil
}

// Cancel removes it if it is still waiting or blocked. Its future resolves
// with ErrCancelled. It returns false once the item was admitted.
func (q *Queue) Cancel(it *Item) bool {
	if it == nil {
		return false
	}
	q.mu.Lock()
	ok := q.removeWaiting(it)
	q.mu.Unlock()
	if ok {
		q.cancelled(it)
	}
	return ok
}

// CancelTask removes every waiting item of the task with the same full name.
func (q *Queue) CancelTask(task Task) bool {
	if task == nil {
		return false
	}
	name := task.FullName()
	var removed []*Item
	q.mu.Lock()
	for _, it := range append([]*Item(nil), q.items...) {
		if it.task.FullName() == name && q.removeWaiting(it) {
			removed = append(removed, it)
		}
	}
	q.mu.Unlock()
	for _, it := range removed {
		q.cancelled(it)
	}
	return len(removed) > 0
}

// removeWaiting drops it from the item set. Caller holds q.mu.
func (q *Queue) removeWaiting(it *Item) bool {
	if it.state == StatePending || it.state == StateLeft {
		return false
	}
	if !q.drop(it) {
		return false
	}
	it.state = StateLeft
	it.cause = nil
	q.graph.release(it.task.FullName())
	return true
}

func (q *Queue) cancelled(it *Item) {
	it.future.resolve(nil, fmt.Errorf("%s removed from queue: %w", it.task.FullName(), ErrCancelled))
	q.publish(events.TopicQueue, events.ItemLeftEvent{
		ItemID:    it.id,
		Task:      it.task.FullName(),
		Cancelled: true,
		Timestamp: q.now(),
	})
}

// drop removes it from q.items. Caller holds q.mu.
func (q *Queue) drop(it *Item) bool {
	for i, other := range q.items {
		if other == it {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// CauseOfBlockage returns why it is not buildable right now, or nil.
func (q *Queue) CauseOfBlockage(it *Item) *CauseOfBlockage {
	if it == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if it.cause == nil {
		return nil
	}
	c := *it.cause
	return &c
}

// Info returns a snapshot of it.
func (q *Queue) Info(it *Item) ItemInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	return it.info()
}

// Items returns snapshots of every visible item in enqueue order.
func (q *Queue) Items() []ItemInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ItemInfo, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.info())
	}
	return out
}

// Item looks a visible item up by id.
func (q *Queue) Item(id int64) (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.id == id {
			return it, true
		}
	}
	return nil, false
}

// Running returns the number of admitted tasks whose future is not resolved.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, c := range q.running {
		n += c
	}
	return n
}

// Wake requests a scheduling pass from Run. It never blocks.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run evaluates the queue on every Wake, at every maintain interval and when
// a quiet period expires, until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		next := q.maintain()

		var expired <-chan time.Time
		var timer *time.Timer
		if !next.IsZero() {
			timer = time.NewTimer(next.Sub(q.now()))
			expired = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-q.wake:
		case <-ticker.C:
		case <-expired:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Maintain runs one scheduling pass.
func (q *Queue) Maintain() {
	q.maintain()
}

// blockedNotice is a cause change to publish once the lock is released.
type blockedNotice struct {
	item  *Item
	cause string
}

// maintain runs one pass and returns the earliest quiet-period deadline that
// is still ahead, or the zero time.
func (q *Queue) maintain() time.Time {
	q.pass.Lock()
	defer q.pass.Unlock()

	var nodes []Node
	if q.registry != nil {
		nodes = q.registry.Nodes()
	}

	q.mu.Lock()
	now := q.now()
	var next time.Time
	var notices []blockedNotice
	var admitted []*admission
	claimed := make(map[Executor]bool)

	for _, it := range append([]*Item(nil), q.items...) {
		if it.state == StatePending {
			continue
		}
		if now.Before(it.notBefore) {
			if next.IsZero() || it.notBefore.Before(next) {
				next = it.notBefore
			}
			it.state = StateWaiting
			it.cause = Message("In the quiet period. Expires in %s", it.notBefore.Sub(now).Round(time.Second))
			continue
		}

		info := it.info()
		cause := q.veto(it, info)
		var assignment []Executor
		if cause == nil {
			assignment, cause = q.assign(it, info, nodes, claimed)
		}
		if cause != nil {
			before := it.cause.Description()
			it.state = StateBlocked
			it.cause = cause
			if before != cause.Description() {
				notices = append(notices, blockedNotice{item: it, cause: cause.Description()})
			}
			continue
		}

		for _, e := range assignment {
			claimed[e] = true
		}
		it.state = StateBuildable
		it.cause = nil
		a, err := q.prepare(it, assignment)
		if err != nil {
			log.Printf("ERROR: failed to admit %s: %v", it.task.FullName(), err)
			it.state = StateBlocked
			it.cause = Message("%v", err)
			continue
		}
		admitted = append(admitted, a)
	}
	q.mu.Unlock()

	for _, n := range notices {
		q.publish(events.TopicQueue, events.ItemBlockedEvent{
			ItemID:    n.item.id,
			Task:      n.item.task.FullName(),
			Cause:     n.cause,
			Timestamp: now,
		})
	}
	for _, a := range admitted {
		q.start(a)
	}
	return next
}

// veto checks the item as a whole. Caller holds q.mu.
func (q *Queue) veto(it *Item, info ItemInfo) *CauseOfBlockage {
	name := it.task.FullName()
	if !allowsConcurrent(it.task) && q.running[name] > 0 {
		return Message("Build of %s is already in progress", name)
	}
	if ut, ok := it.task.(UpstreamTask); ok {
		for _, up := range ut.Upstream() {
			if up == name {
				continue
			}
			if q.running[up] > 0 {
				return Message("Upstream task %s is in progress", up)
			}
			for _, other := range q.items {
				if other != it && other.task.FullName() == up {
					return Message("Upstream task %s is in progress", up)
				}
			}
		}
	}
	for _, d := range q.dispatchers {
		if c := d.CanRun(info); c != nil {
			return c
		}
	}
	return nil
}

func allowsConcurrent(t Task) bool {
	ct, ok := t.(ConcurrentTask)
	return ok && ct.AllowsConcurrentBuilds()
}

// assign picks one idle executor per sub-task, or returns the cause of the
// first sub-task that cannot be served. Partial assignments are discarded.
// Caller holds q.mu.
func (q *Queue) assign(it *Item, info ItemInfo, nodes []Node, claimed map[Executor]bool) ([]Executor, *CauseOfBlockage) {
	subTasks := SubTasksOf(it.task)
	taken := make(map[Executor]bool, len(subTasks))
	assignment := make([]Executor, 0, len(subTasks))

	for _, st := range subTasks {
		req := st.Requirement()
		var found Executor
		var vetoed *CauseOfBlockage
		for _, n := range nodes {
			if !n.Online() || !Matches(req, n.Name(), n.Labels(), n.Mode()) {
				continue
			}
			if c := q.canTake(n, info); c != nil {
				vetoed = c
				continue
			}
			for _, e := range n.IdleExecutors() {
				if !claimed[e] && !taken[e] {
					found = e
					break
				}
			}
			if found != nil {
				break
			}
		}
		if found == nil {
			if vetoed != nil {
				return nil, vetoed
			}
			return nil, blockage(req, nodes)
		}
		taken[found] = true
		assignment = append(assignment, found)
	}
	return assignment, nil
}

func (q *Queue) canTake(n Node, info ItemInfo) *CauseOfBlockage {
	for _, d := range q.dispatchers {
		if c := d.CanTake(n, info); c != nil {
			return c
		}
	}
	return nil
}

// blockage explains why no idle executor satisfies req.
func blockage(req Requirement, nodes []Node) *CauseOfBlockage {
	if req.Node != "" {
		for _, n := range nodes {
			if n.Name() == req.Node && n.Online() {
				return NodeBusy(req.Node)
			}
		}
		return NodeOffline(req.Node)
	}

	matching, online := 0, 0
	for _, n := range nodes {
		if !n.Online() {
			continue
		}
		online++
		if Matches(req, n.Name(), n.Labels(), n.Mode()) {
			matching++
		}
	}
	if !req.Label.IsAny() {
		if matching == 0 {
			return LabelOffline(req.Label)
		}
		return LabelBusy(req.Label)
	}
	switch {
	case len(nodes) == 0:
		return Message("There are no nodes")
	case online == 0:
		return Message("All nodes are offline")
	default:
		return Message("Waiting for next available executor")
	}
}

// admission is an item whose context exists and whose work units still have
// to be handed to their executors.
type admission struct {
	item      *Item
	context   *WorkUnitContext
	workUnits []*WorkUnit
	executors []Executor
}

// prepare creates the context and one work unit per sub-task, and marks the
// item Pending. Caller holds q.mu.
func (q *Queue) prepare(it *Item, assignment []Executor) (*admission, error) {
	wuc, err := NewWorkUnitContext(it)
	if err != nil {
		return nil, err
	}
	a := &admission{item: it, context: wuc, executors: assignment}
	for i, st := range SubTasksOf(it.task) {
		wu, err := wuc.CreateWorkUnit(st, assignment[i])
		if err != nil {
			it.future.attach(nil)
			return nil, err
		}
		a.workUnits = append(a.workUnits, wu)
	}
	it.wuc = wuc
	it.state = StatePending
	q.running[it.task.FullName()]++
	return a, nil
}

// start hands every work unit to its executor and watches the outcome.
func (q *Queue) start(a *admission) {
	it := a.item
	names := make([]string, len(a.executors))
	for i, e := range a.executors {
		names[i] = e.DisplayName()
	}
	q.publish(events.TopicQueue, events.ItemBuildableEvent{
		ItemID:    it.id,
		Task:      it.task.FullName(),
		ContextID: a.context.ID(),
		Executors: names,
		Timestamp: q.now(),
	})

	go q.watch(it, a.context)

	for i, wu := range a.workUnits {
		if a.context.Aborted() != nil {
			break
		}
		e := a.executors[i]
		wu.SetExecutor(e)
		if err := e.Accept(wu); err != nil {
			log.Printf("WARNING: executor %s refused %s: %v", e.DisplayName(), wu.Work().DisplayName(), err)
			wu.SetExecutor(nil)
			_ = a.context.Abort(fmt.Errorf("executor %s refused work: %w", e.DisplayName(), err))
		}
	}
}

// watch moves the item to Left once its executors started (or it was aborted
// first), and forgets the run once its future is resolved.
func (q *Queue) watch(it *Item, wuc *WorkUnitContext) {
	select {
	case <-it.future.Started():
	case <-it.future.Done():
	}

	q.mu.Lock()
	q.drop(it)
	it.state = StateLeft
	q.mu.Unlock()

	q.publish(events.TopicQueue, events.ItemLeftEvent{
		ItemID:    it.id,
		Task:      it.task.FullName(),
		ContextID: wuc.ID(),
		Timestamp: q.now(),
	})

	<-it.future.Done()

	name := it.task.FullName()
	q.mu.Lock()
	if q.running[name]--; q.running[name] <= 0 {
		delete(q.running, name)
	}
	q.graph.release(name)
	q.mu.Unlock()
	q.Wake()
}

func (q *Queue) publish(topic string, e events.Event) {
	if q.publisher != nil {
		q.publisher.Publish(topic, e)
	}
}
