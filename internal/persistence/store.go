package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// BuildResult is the outcome class of a finished build.
type BuildResult string

const (
	ResultSuccess BuildResult = "success"
	ResultFailure BuildResult = "failure"
	ResultAborted BuildResult = "aborted"
)

// BuildRecord is one finished execution of a task.
type BuildRecord struct {
	ContextID    string // unique per execution
	TaskName     string
	ExecutableID string
	Node         string
	Result       BuildResult
	Problem      string
	Duration     time.Duration
	FinishedAt   time.Time
}

// QueuedEntry is a waiting queue item saved across restarts.
type QueuedEntry struct {
	TaskName   string
	EnqueuedAt time.Time
	Actions    []Action
}

// Action mirrors a queue action for storage.
type Action struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Store defines the persistence interface for build history and the queue snapshot.
type Store interface {
	// Build history
	SaveRecord(ctx context.Context, rec BuildRecord) error
	ListRecords(ctx context.Context, taskName string, limit int) ([]BuildRecord, error)

	// Queue snapshot
	SaveQueue(ctx context.Context, entries []QueuedEntry) error
	LoadQueue(ctx context.Context) ([]QueuedEntry, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// memoryStores names in-memory databases so each store gets its own.
var memoryStores atomic.Int64

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and a busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return open(ctx, connStr, 2)
}

// NewMemoryStore creates an in-memory SQLite store for testing. It uses a
// single connection, since the database lives only as long as one is open.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:buildqueue-%d?mode=memory&cache=shared", memoryStores.Add(1))
	return open(ctx, connStr, 1)
}

func open(ctx context.Context, connStr string, maxConns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
