package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/mailroom/pkg/logger"
)

const (
	defaultMaxWorkers   = 10
	defaultRetryBackoff = 5 * time.Second
	defaultQueue        = river.QueueDefault
)

// Manager combines enqueueing with worker processing. It embeds Enqueuer,
// so jobs can be enqueued before Start is called.
type Manager struct {
	*Enqueuer
	registry *taskRegistry
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewManager creates a job manager. The River client is created
// immediately; call Start to begin consuming jobs.
func NewManager(pool *pgxpool.Pool, opts ...Option) (*Manager, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = logger.NewNop()
	}
	if cfg.maxWorkers == 0 {
		cfg.maxWorkers = defaultMaxWorkers
	}
	if cfg.retryBackoff == 0 {
		cfg.retryBackoff = defaultRetryBackoff
	}

	queues := map[string]river.QueueConfig{
		defaultQueue: {MaxWorkers: cfg.maxWorkers},
	}
	for name, workers := range cfg.queues {
		queues[name] = river.QueueConfig{MaxWorkers: workers}
	}

	var periodicJobs []*river.PeriodicJob
	for _, sched := range cfg.schedules {
		cronSchedule, err := parseCronSchedule(sched.schedule)
		if err != nil {
			return nil, fmt.Errorf("job: invalid cron schedule %q: %w", sched.schedule, err)
		}

		periodicJobs = append(periodicJobs, river.NewPeriodicJob(
			cronSchedule,
			func() (river.JobArgs, *river.InsertOpts) {
				return &taskArgs{TaskName: sched.name}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		))

		cfg.registry.register(sched.name, &scheduledTaskExecutor{handler: sched.handler})
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &taskWorker{
		registry: cfg.registry,
		logger:   cfg.logger,
		backoff:  cfg.retryBackoff,
	})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       queues,
		Workers:      workers,
		PeriodicJobs: periodicJobs,
		Logger:       cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("job: create client: %w", err)
	}

	return &Manager{
		Enqueuer: &Enqueuer{pool: pool, client: client, logger: cfg.logger},
		registry: cfg.registry,
		logger:   cfg.logger,
	}, nil
}

// Start begins consuming jobs.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}

	if err := m.client.Start(ctx); err != nil {
		return fmt.Errorf("job: start client: %w", err)
	}

	m.started = true
	m.logger.Info("job manager started", slog.Int("tasks", m.registry.size()))

	return nil
}

// Stop gracefully shuts down the manager, waiting for in-flight jobs.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return ErrNotStarted
	}

	if err := m.client.Stop(ctx); err != nil {
		return fmt.Errorf("job: stop client: %w", err)
	}

	m.started = false
	m.logger.Info("job manager stopped")
	return nil
}

// Enqueue persists a job for a registered task and returns its id.
func (m *Manager) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (int64, error) {
	if _, ok := m.registry.get(name); !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return m.Enqueuer.Enqueue(ctx, name, payload, opts...)
}

// Shutdown returns a shutdown hook for the manager.
func (m *Manager) Shutdown() func(context.Context) error {
	return func(ctx context.Context) error {
		return m.Stop(ctx)
	}
}

// Healthcheck returns a readiness probe verifying the manager is started
// and its database connection answers.
func (m *Manager) Healthcheck() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()

		if !started {
			return ErrNotStarted
		}
		return m.pool.Ping(ctx)
	}
}

// taskArgs is the single River job arguments type used for all tasks:
// a task name plus an opaque JSON payload.
type taskArgs struct {
	TaskName string          `json:"task_name"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (taskArgs) Kind() string {
	return "mailroom:task"
}

// taskWorker dispatches every job through the registry.
type taskWorker struct {
	river.WorkerDefaults[taskArgs]
	registry *taskRegistry
	logger   *slog.Logger
	backoff  time.Duration
}

func (w *taskWorker) Work(ctx context.Context, j *river.Job[taskArgs]) error {
	executor, ok := w.registry.get(j.Args.TaskName)
	if !ok || executor == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, j.Args.TaskName)
	}

	ctx = withMeta(ctx, Meta{ID: j.ID, Attempt: j.Attempt, MaxAttempts: j.MaxAttempts})

	w.logger.DebugContext(ctx, "executing task",
		slog.String("task", j.Args.TaskName),
		slog.Int64("job_id", j.ID),
		slog.Int("attempt", j.Attempt),
	)

	if err := executor.Execute(ctx, j.Args.Payload); err != nil {
		w.logger.ErrorContext(ctx, "task failed",
			slog.String("task", j.Args.TaskName),
			slog.Int64("job_id", j.ID),
			slog.Int("attempt", j.Attempt),
			slog.Any("error", err),
		)
		if IsTerminal(err) {
			// Cancel instead of erroring so the queue never redelivers.
			return river.JobCancel(err)
		}
		return err
	}

	return nil
}

// NextRetry implements the fixed-backoff redelivery policy. The queue's
// native retry mechanism is the only place retries are scheduled.
func (w *taskWorker) NextRetry(*river.Job[taskArgs]) time.Time {
	return time.Now().Add(w.backoff)
}

type scheduledTaskExecutor struct {
	handler scheduledHandler
}

func (e *scheduledTaskExecutor) Execute(ctx context.Context, _ json.RawMessage) error {
	return e.handler(ctx)
}

type cronScheduleAdapter struct {
	schedule cron.Schedule
}

func (a *cronScheduleAdapter) Next(current time.Time) time.Time {
	return a.schedule.Next(current)
}

func parseCronSchedule(expr string) (river.PeriodicSchedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &cronScheduleAdapter{schedule: schedule}, nil
}
