package config

import "time"

// TasksConfig contains task lifecycle configuration.
// These values control how analysis tasks are launched, tracked, and reclaimed.
type TasksConfig struct {
	// MaxConcurrentTasks limits analysis goroutines running at once in this
	// process. Submissions beyond the limit stay pending until a slot frees.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// MaxBatchSize is the hard cap on symbols per batch submission.
	MaxBatchSize int `yaml:"max_batch_size"`

	// TaskTimeout is the maximum wall-clock time for one analysis run.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// GracefulShutdownTimeout is the max time to wait for running tasks
	// to complete during shutdown. Should match TaskTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// ProgressFlushInterval debounces durable progress writes; in-memory
	// state and event fanout are immediate.
	ProgressFlushInterval time.Duration `yaml:"progress_flush_interval"`

	// ZombieSweepInterval is how often the background sweeper looks for
	// stuck tasks. Zero disables the sweeper (the admin endpoint remains).
	ZombieSweepInterval time.Duration `yaml:"zombie_sweep_interval"`

	// ZombieMaxRunningHours is how long a task may stay non-terminal
	// before the sweeper reclaims it. Clamped to [1, 72].
	ZombieMaxRunningHours float64 `yaml:"zombie_max_running_hours"`
}

// DefaultTasksConfig returns the built-in task lifecycle defaults.
func DefaultTasksConfig() *TasksConfig {
	return &TasksConfig{
		MaxConcurrentTasks:      5,
		MaxBatchSize:            10,
		TaskTimeout:             25 * time.Minute,
		GracefulShutdownTimeout: 25 * time.Minute,
		ProgressFlushInterval:   2 * time.Second,
		ZombieSweepInterval:     0,
		ZombieMaxRunningHours:   2,
	}
}
