package tui

import (
	"context"
	"time"

	"github.com/aristath/buildqueue/internal/executor"
	"github.com/aristath/buildqueue/internal/persistence"
	"github.com/aristath/buildqueue/internal/scheduler"
)

// Source is what the monitor reads from and acts on. *orchestrator.Server
// implements it.
type Source interface {
	Items() []scheduler.ItemInfo
	Executors() []executor.Status
	History(ctx context.Context, taskName string, limit int) ([]persistence.BuildRecord, error)
	JobNames() []string
	Submit(name string, quiet time.Duration) error
	Cancel(itemID int64) bool
	HistoryPaused() bool
}
