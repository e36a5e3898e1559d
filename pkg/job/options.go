package job

import (
	"context"
	"log/slog"
	"time"
)

// config holds job manager configuration.
type config struct {
	registry     *taskRegistry
	queues       map[string]int
	logger       *slog.Logger
	schedules    []scheduleConfig
	maxWorkers   int
	retryBackoff time.Duration
}

func newConfig() *config {
	return &config{
		registry: newTaskRegistry(),
		queues:   make(map[string]int),
	}
}

// scheduledHandler is the function type for scheduled task handlers.
type scheduledHandler func(ctx context.Context) error

type scheduleConfig struct {
	handler  scheduledHandler
	name     string
	schedule string
}

// Option configures the job manager.
type Option func(*config)

// WithTask registers a task handler. The payload type P is inferred from
// the Handle method signature.
//
// Example:
//
//	job.WithTask[SendPayload](task)
func WithTask[P any, T interface {
	Name() string
	Handle(context.Context, P) error
}](task T) Option {
	return func(c *config) {
		c.registry.register(task.Name(), &taskWrapper[P, T]{task: task})
	}
}

// WithScheduledTask registers a periodic task. Schedule() must return a
// five-field cron expression (min hour day month weekday).
func WithScheduledTask[T interface {
	Name() string
	Schedule() string
	Handle(context.Context) error
}](task T) Option {
	return func(c *config) {
		c.schedules = append(c.schedules, scheduleConfig{
			name:     task.Name(),
			schedule: task.Schedule(),
			handler:  task.Handle,
		})
	}
}

// WithQueue configures a named queue with the given worker count.
func WithQueue(name string, workers int) Option {
	return func(c *config) {
		if workers > 0 {
			c.queues[name] = workers
		}
	}
}

// WithLogger sets the logger for job processing.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxWorkers sets the worker count for the default queue.
// Defaults to 10.
func WithMaxWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithRetryBackoff sets the fixed delay before a failed job is
// redelivered. Defaults to 5 seconds.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.retryBackoff = d
		}
	}
}
