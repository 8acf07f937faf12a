package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/buildqueue/internal/config"
	"github.com/aristath/buildqueue/internal/events"
	"github.com/aristath/buildqueue/internal/executor"
	"github.com/aristath/buildqueue/internal/job"
	"github.com/aristath/buildqueue/internal/persistence"
	"github.com/aristath/buildqueue/internal/scheduler"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Nodes = map[string]config.NodeConfig{
		"local": {Executors: 2, Labels: []string{"linux"}},
	}
	cfg.Jobs = map[string]config.JobConfig{
		"ok":    {Label: "linux", Commands: [][]string{{"true"}}},
		"fail":  {Commands: [][]string{{"sh", "-c", "exit 3"}}},
		"sleep": {Commands: [][]string{{"sleep", "30"}}},
		"app":   {Commands: [][]string{{"true"}}, Upstream: []string{"ok"}, QuietPeriod: config.Duration(time.Hour)},
	}
	cfg.Queue.MaintainInterval = config.Duration(10 * time.Millisecond)
	cfg.Retry = testRetry()
	return cfg
}

func testStore(t *testing.T) *persistence.SQLiteStore {
	t.Helper()
	store, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestServer(t *testing.T, store persistence.Store, opts ...Option) *Server {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	s, err := New(testConfig(), store, bus, opts...)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return s
}

// runServer runs s until the returned stop function is called.
func runServer(t *testing.T, s *Server) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	stopped := false
	stop = func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("server did not stop")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNewServer(t *testing.T) {
	s := newTestServer(t, testStore(t))
	if s.HistoryPaused() {
		t.Error("expected history recording to start unpaused")
	}
	if len(s.Registry().Computers()) != 1 {
		t.Fatalf("expected one computer, got %d", len(s.Registry().Computers()))
	}
	if s.Catalog().Len() != 4 {
		t.Errorf("expected 4 jobs, got %d", s.Catalog().Len())
	}

	if _, err := New(nil, nil, nil); !errors.Is(err, scheduler.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	bad := testConfig()
	bad.Jobs["broken"] = config.JobConfig{Upstream: []string{"missing"}}
	if _, err := New(bad, testStore(t), events.NewEventBus()); err == nil {
		t.Error("expected invalid config to be rejected")
	}
}

func TestBuildAndWait(t *testing.T) {
	s := newTestServer(t, testStore(t))
	runServer(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := s.BuildAndWait(ctx, "ok", scheduler.Action{Name: "cause", Value: "test"})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if b.Node() != "local" || b.ID() == "" {
		t.Errorf("unexpected build %s on %q", b.ID(), b.Node())
	}

	waitFor(t, "history record", func() bool {
		recs, _ := s.History(ctx, "ok", 10)
		return len(recs) == 1
	})
	recs, _ := s.History(ctx, "ok", 10)
	if recs[0].Result != persistence.ResultSuccess || recs[0].ExecutableID != b.ID() {
		t.Errorf("unexpected record %+v", recs[0])
	}

	if _, err := s.BuildAndWait(ctx, "fail"); err == nil {
		t.Fatal("expected failing build to return an error")
	}
	waitFor(t, "failure record", func() bool {
		recs, _ := s.History(ctx, "fail", 10)
		return len(recs) == 1 && recs[0].Result == persistence.ResultFailure
	})

	if _, err := s.BuildAndWait(ctx, "missing"); !errors.Is(err, job.ErrUnknownJob) {
		t.Errorf("expected ErrUnknownJob, got %v", err)
	}
}

func TestScheduleUsesJobQuietPeriod(t *testing.T) {
	s := newTestServer(t, testStore(t))

	it, err := s.Schedule("app", JobQuietPeriod)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	info := s.Queue().Info(it)
	if got := info.NotBefore.Sub(info.InQueueSince); got < 59*time.Minute {
		t.Errorf("expected the job's one hour quiet period, got %v", got)
	}
}

func TestCancel(t *testing.T) {
	s := newTestServer(t, testStore(t))
	runServer(t, s)

	it, err := s.Schedule("ok", time.Hour)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if !s.Cancel(it.ID()) {
		t.Fatal("expected cancel of waiting item to succeed")
	}
	if _, err := it.Future().GetTimeout(time.Second); !errors.Is(err, scheduler.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
	if s.Cancel(it.ID()) {
		t.Error("second cancel should report false")
	}
	if s.Cancel(9999) {
		t.Error("cancel of unknown id should report false")
	}
}

func TestShutdownSavesAndRestoresQueue(t *testing.T) {
	store := testStore(t)
	s := newTestServer(t, store)
	stop := runServer(t, s)

	if _, err := s.Schedule("ok", time.Hour, scheduler.Action{Name: "cause", Value: "push"}); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	entries, err := store.LoadQueue(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskName != "ok" || len(entries[0].Actions) != 1 {
		t.Fatalf("unexpected snapshot %+v", entries)
	}

	restarted := newTestServer(t, store)
	n, err := restarted.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	items := restarted.Queue().Items()
	if len(items) != 1 || items[0].TaskName != "ok" || items[0].Actions[0].Value != "push" {
		t.Errorf("unexpected restored queue %+v", items)
	}
	if left, _ := store.LoadQueue(context.Background()); len(left) != 0 {
		t.Errorf("expected restored snapshot to be cleared, got %d entries", len(left))
	}
}

func TestOneShotRunKeepsSavedQueue(t *testing.T) {
	store := testStore(t)
	saved := []persistence.QueuedEntry{{TaskName: "app", EnqueuedAt: time.Now()}}
	if err := store.SaveQueue(context.Background(), saved); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	s := newTestServer(t, store, WithoutQueueSnapshot())
	stop := runServer(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.BuildAndWait(ctx, "ok"); err != nil {
		t.Fatalf("BuildAndWait: %v", err)
	}
	if _, err := s.Schedule("sleep", time.Hour); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	entries, err := store.LoadQueue(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskName != "app" {
		t.Errorf("expected the saved queue to survive, got %+v", entries)
	}
}

func TestRestoreSkipsUnknownJobs(t *testing.T) {
	store := testStore(t)
	err := store.SaveQueue(context.Background(), []persistence.QueuedEntry{
		{TaskName: "gone", EnqueuedAt: time.Now()},
		{TaskName: "ok", EnqueuedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	s := newTestServer(t, store)
	n, err := s.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
}

func TestShutdownInterruptsRunningBuilds(t *testing.T) {
	s := newTestServer(t, testStore(t))
	stop := runServer(t, s)

	it, err := s.Schedule("sleep", 0)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	select {
	case <-it.Future().Started():
	case <-time.After(5 * time.Second):
		t.Fatal("build never started")
	}
	waitFor(t, "process running", func() bool { return s.pm.Count() == 1 })

	if err := stop(); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if _, err := it.Future().GetTimeout(5 * time.Second); !errors.Is(err, executor.ErrNodeOffline) {
		t.Errorf("expected the build to be interrupted by the node going offline, got %v", err)
	}
}
