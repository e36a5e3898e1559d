package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailroom/pkg/job"
)

// TaskSendEmail is the queue task executed by the delivery worker.
const TaskSendEmail = "send_email"

// SendPayload is the job body enqueued per accepted send request.
type SendPayload struct {
	Data     SendRequest `json:"data"`
	SystemID uuid.UUID   `json:"system_id"`
}

// Enqueuer inserts durable jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...job.EnqueueOption) (int64, error)
}

// Dispatcher validates send requests and hands them to the queue. It
// never talks to the email provider itself; acceptance only means the
// job is durably stored.
type Dispatcher struct {
	jobs        Enqueuer
	maxAttempts int
}

func NewDispatcher(jobs Enqueuer, maxAttempts int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{jobs: jobs, maxAttempts: maxAttempts}
}

// Dispatch validates the request and enqueues a delivery job on behalf
// of the tenant. It returns the queue job id, which doubles as the
// idempotency key for the delivery attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, systemID uuid.UUID, req SendRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}

	jobID, err := d.jobs.Enqueue(ctx, TaskSendEmail, SendPayload{Data: req, SystemID: systemID},
		job.MaxAttempts(d.maxAttempts),
		job.Tags("email", req.Type),
	)
	if err != nil {
		return 0, fmt.Errorf("dispatch: enqueue send job: %w", err)
	}
	return jobID, nil
}
