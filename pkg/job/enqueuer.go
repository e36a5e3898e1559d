package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/dmitrymomot/mailroom/pkg/logger"
)

// Enqueuer provides job enqueueing without worker processing. Use it in
// processes that only dispatch work, leaving consumption to a separate
// worker deployment.
type Enqueuer struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	logger *slog.Logger
}

// NewEnqueuer creates an insert-only queue client.
func NewEnqueuer(pool *pgxpool.Pool, log *slog.Logger) (*Enqueuer, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if log == nil {
		log = logger.NewNop()
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("job: create enqueuer client: %w", err)
	}

	return &Enqueuer{pool: pool, client: client, logger: log}, nil
}

// Enqueue persists a job and returns its queue-assigned id. The id is the
// job's identity across redeliveries and doubles as the idempotency key
// for handlers.
func (e *Enqueuer) Enqueue(ctx context.Context, name string, payload any, opts ...EnqueueOption) (int64, error) {
	args, insertOpts, err := buildJobArgs(name, payload, opts...)
	if err != nil {
		return 0, err
	}

	res, err := e.client.Insert(ctx, args, insertOpts)
	if err != nil {
		return 0, fmt.Errorf("job: enqueue: %w", err)
	}

	return res.Job.ID, nil
}

// buildJobArgs creates River job arguments from the task name and payload.
// Shared between Enqueuer and Manager.
func buildJobArgs(name string, payload any, opts ...EnqueueOption) (*taskArgs, *river.InsertOpts, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("job: marshal payload: %w", err)
		}
	}

	args := &taskArgs{
		TaskName: name,
		Payload:  payloadBytes,
	}

	cfg := &enqueueConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	insertOpts := &river.InsertOpts{}
	if cfg.queue != "" {
		insertOpts.Queue = cfg.queue
	}
	if cfg.maxAttempts > 0 {
		insertOpts.MaxAttempts = cfg.maxAttempts
	}
	if len(cfg.tags) > 0 {
		insertOpts.Tags = cfg.tags
	}

	return args, insertOpts, nil
}
