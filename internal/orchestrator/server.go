package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/buildqueue/internal/backend"
	"github.com/aristath/buildqueue/internal/config"
	"github.com/aristath/buildqueue/internal/events"
	"github.com/aristath/buildqueue/internal/executor"
	"github.com/aristath/buildqueue/internal/job"
	"github.com/aristath/buildqueue/internal/persistence"
	"github.com/aristath/buildqueue/internal/scheduler"
)

// JobQuietPeriod asks Schedule to use the job's configured quiet period.
const JobQuietPeriod time.Duration = -1

// shutdownTimeout bounds the snapshot write when Run stops.
const shutdownTimeout = 10 * time.Second

// Server wires the configured nodes, jobs, queue and build history together.
type Server struct {
	bus      *events.EventBus
	pm       *backend.ProcessManager
	registry *executor.Registry
	queue    *scheduler.Queue
	catalog  *job.Catalog
	store    persistence.Store
	history  *HistoryRecorder

	keepSnapshot bool
}

// Option configures a Server.
type Option func(*Server)

// WithoutQueueSnapshot leaves the saved queue snapshot untouched when Run
// stops, for runs that did not Restore it.
func WithoutQueueSnapshot() Option {
	return func(s *Server) { s.keepSnapshot = true }
}

// New creates a server from cfg. Builds are recorded in store and events
// are published on bus. The caller owns both.
func New(cfg *config.Config, store persistence.Store, bus *events.EventBus, opts ...Option) (*Server, error) {
	if cfg == nil || store == nil || bus == nil {
		return nil, fmt.Errorf("server needs config, store and event bus: %w", scheduler.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		bus:      bus,
		pm:       backend.NewProcessManager(),
		registry: executor.NewRegistry(),
		store:    store,
		history:  NewHistoryRecorder(store, cfg.Retry),
	}
	for _, opt := range opts {
		opt(s)
	}

	catalog, err := job.NewCatalog(cfg.Jobs, backend.NewShell(s.pm), cfg.Queue.DefaultQuietPeriod.Std())
	if err != nil {
		return nil, fmt.Errorf("loading jobs: %w", err)
	}
	s.catalog = catalog

	queueOpts := []scheduler.Option{scheduler.WithPublisher(bus)}
	if cfg.Queue.MaintainInterval > 0 {
		queueOpts = append(queueOpts, scheduler.WithMaintainInterval(cfg.Queue.MaintainInterval.Std()))
	}
	s.queue = scheduler.NewQueue(s.registry, queueOpts...)

	names := make([]string, 0, len(cfg.Nodes))
	for name := range cfg.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		n := cfg.Nodes[name]
		c := executor.NewComputer(name, n.Executors, n.Labels, n.NodeMode(),
			executor.WithPublisher(bus),
			executor.WithRecorder(s.history),
			executor.WithWaker(s.queue.Wake))
		if err := s.registry.Add(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Queue returns the build queue.
func (s *Server) Queue() *scheduler.Queue { return s.queue }

// Registry returns the node registry.
func (s *Server) Registry() *executor.Registry { return s.registry }

// Catalog returns the configured jobs.
func (s *Server) Catalog() *job.Catalog { return s.catalog }

// Bus returns the event bus.
func (s *Server) Bus() *events.EventBus { return s.bus }

// History lists finished builds of taskName ("" for all), newest first.
func (s *Server) History(ctx context.Context, taskName string, limit int) ([]persistence.BuildRecord, error) {
	return s.history.History(ctx, taskName, limit)
}

// HistoryPaused reports whether build records are being dropped because the
// history store keeps failing.
func (s *Server) HistoryPaused() bool { return s.history.Open() }

// Items returns a snapshot of the queue.
func (s *Server) Items() []scheduler.ItemInfo { return s.queue.Items() }

// Executors returns the state of every executor.
func (s *Server) Executors() []executor.Status { return s.registry.Statuses() }

// JobNames returns the configured job names, sorted.
func (s *Server) JobNames() []string { return s.catalog.Names() }

// Submit is Schedule without the item, for callers that only need the error.
func (s *Server) Submit(name string, quiet time.Duration) error {
	_, err := s.Schedule(name, quiet)
	return err
}

// Schedule enqueues the named job. A negative quiet period (JobQuietPeriod)
// uses the job's own.
func (s *Server) Schedule(name string, quiet time.Duration, actions ...scheduler.Action) (*scheduler.Item, error) {
	j, err := s.catalog.Get(name)
	if err != nil {
		return nil, err
	}
	if quiet < 0 {
		quiet = j.QuietPeriod()
	}
	return s.queue.Enqueue(j, scheduler.WithQuietPeriod(quiet), scheduler.WithActions(actions...))
}

// BuildAndWait schedules the named job without quiet period and waits for
// its outcome. If ctx ends first the item stays queued.
func (s *Server) BuildAndWait(ctx context.Context, name string, actions ...scheduler.Action) (*job.Build, error) {
	it, err := s.Schedule(name, 0, actions...)
	if err != nil {
		return nil, err
	}
	exec, err := it.Future().Get(ctx)
	b, _ := exec.(*job.Build)
	return b, err
}

// Cancel removes a waiting item or aborts a running one. It reports false
// for unknown ids and for items that already have an outcome.
func (s *Server) Cancel(itemID int64) bool {
	it, ok := s.queue.Item(itemID)
	if !ok {
		return false
	}
	return it.Future().Cancel()
}

// Restore re-enqueues the queue snapshot saved by the last Run. Entries for
// jobs that no longer exist are skipped.
func (s *Server) Restore(ctx context.Context) (int, error) {
	entries, err := s.store.LoadQueue(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading queue snapshot: %w", err)
	}
	restored := 0
	for _, e := range entries {
		actions := make([]scheduler.Action, len(e.Actions))
		for i, a := range e.Actions {
			actions[i] = scheduler.Action{Name: a.Name, Value: a.Value}
		}
		if _, err := s.Schedule(e.TaskName, JobQuietPeriod, actions...); err != nil {
			log.Printf("WARNING: dropping queued %s from snapshot: %v", e.TaskName, err)
			continue
		}
		restored++
	}
	if err := s.store.SaveQueue(ctx, nil); err != nil {
		return restored, fmt.Errorf("clearing queue snapshot: %w", err)
	}
	return restored, nil
}

// Run drives the queue until ctx is cancelled. On the way out it saves the
// waiting items (unless WithoutQueueSnapshot), takes every node offline and
// kills leftover processes.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	builds := s.bus.Subscribe(events.TopicBuild, 64)

	g.Go(func() error {
		err := s.queue.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		defer s.bus.Unsubscribe(builds)
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-builds:
				if !ok {
					return nil
				}
				logBuildEvent(ev)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if !s.keepSnapshot {
		if err := s.snapshot(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range s.registry.Computers() {
		c.SetOnline(false)
	}
	if err := s.pm.KillAll(); err != nil {
		errs = append(errs, fmt.Errorf("killing build processes: %w", err))
	}
	return errors.Join(errs...)
}

// snapshot saves the items that were not handed to executors yet.
func (s *Server) snapshot(ctx context.Context) error {
	var entries []persistence.QueuedEntry
	for _, info := range s.queue.Items() {
		if info.State == scheduler.StatePending || info.State == scheduler.StateLeft {
			continue
		}
		e := persistence.QueuedEntry{TaskName: info.TaskName, EnqueuedAt: info.InQueueSince}
		for _, a := range info.Actions {
			e.Actions = append(e.Actions, persistence.Action{Name: a.Name, Value: a.Value})
		}
		entries = append(entries, e)
	}
	if err := s.store.SaveQueue(ctx, entries); err != nil {
		return fmt.Errorf("saving queue snapshot: %w", err)
	}
	return nil
}

func logBuildEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.TaskAcceptedEvent:
		log.Printf("%s started on %s", e.Task, e.Executor)
	case events.TaskCompletedEvent:
		log.Printf("%s finished in %s", e.Task, e.Duration.Round(time.Millisecond))
	case events.TaskFailedEvent:
		log.Printf("WARNING: %s failed after %s: %v", e.Task, e.Duration.Round(time.Millisecond), e.Err)
	}
}
