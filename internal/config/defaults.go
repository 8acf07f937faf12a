package config

import "time"

// DefaultConfig returns the default configuration: a single local node with
// two executors and no jobs.
func DefaultConfig() *Config {
	return &Config{
		Nodes: map[string]NodeConfig{
			"local": {
				Executors: 2,
			},
		},
		Jobs: map[string]JobConfig{},
		Queue: QueueConfig{
			MaintainInterval: Duration(5 * time.Second),
		},
		Retry: RetryConfig{
			InitialInterval:  Duration(100 * time.Millisecond),
			MaxInterval:      Duration(5 * time.Second),
			MaxElapsedTime:   Duration(30 * time.Second),
			FailureThreshold: 5,
			OpenTimeout:      Duration(30 * time.Second),
		},
	}
}
