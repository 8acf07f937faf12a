package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeConfig describes one build node and its executor slots.
type NodeConfig struct {
	Labels    []string `json:"labels,omitempty"` // Label atoms, the node name is implied
	Executors int      `json:"executors"`        // Number of executor slots (at least 1)
	Mode      string   `json:"mode,omitempty"`   // "normal" (default) or "exclusive"
}

// JobConfig defines a buildable job.
type JobConfig struct {
	Label       string              `json:"label,omitempty"`        // Label expression, empty means any node
	Dir         string              `json:"dir,omitempty"`          // Working directory for the commands
	Commands    [][]string          `json:"commands,omitempty"`     // Argv lists run one after the other
	Axes        map[string][]string `json:"axes,omitempty"`         // Matrix axes, one configuration per combination
	Upstream    []string            `json:"upstream,omitempty"`     // Jobs that must not be queued or running
	Concurrent  bool                `json:"concurrent,omitempty"`   // Allow parallel builds of this job
	QuietPeriod Duration            `json:"quiet_period,omitempty"` // Overrides queue.default_quiet_period
}

// QueueConfig tunes the scheduling loop.
type QueueConfig struct {
	MaintainInterval   Duration `json:"maintain_interval,omitempty"`
	DefaultQuietPeriod Duration `json:"default_quiet_period,omitempty"`
}

// HistoryConfig locates the build history database.
type HistoryConfig struct {
	Path string `json:"path,omitempty"` // SQLite file; empty uses the XDG data directory
}

// RetryConfig configures retries and the circuit breaker of history writes.
type RetryConfig struct {
	InitialInterval  Duration `json:"initial_interval,omitempty"`
	MaxInterval      Duration `json:"max_interval,omitempty"`
	MaxElapsedTime   Duration `json:"max_elapsed_time,omitempty"`
	FailureThreshold uint32   `json:"failure_threshold,omitempty"` // Consecutive failures that open the breaker
	OpenTimeout      Duration `json:"open_timeout,omitempty"`      // How long the breaker stays open
}

// Config is the top-level configuration.
type Config struct {
	Nodes   map[string]NodeConfig `json:"nodes"`
	Jobs    map[string]JobConfig  `json:"jobs"`
	Queue   QueueConfig           `json:"queue"`
	History HistoryConfig         `json:"history"`
	Retry   RetryConfig           `json:"retry"`
}

// Duration is a time.Duration written as a string such as "5s" in JSON.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Plain numbers are nanoseconds.
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"5s\": %s", data)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
