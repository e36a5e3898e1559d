package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailroom/internal/storage"
)

// ErrInvalidTransition rejects status updates that would move a log
// backward or out of a terminal state.
var ErrInvalidTransition = errors.New("tracker: invalid status transition")

// LogStore is the persistence surface the tracker needs.
type LogStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*storage.EmailLog, error)
	Update(ctx context.Context, id uuid.UUID, status storage.EmailStatus, u storage.LogUpdate) (*storage.EmailLog, error)
	List(ctx context.Context, f storage.ListLogsFilter) ([]storage.EmailLog, error)
}

// Tracker enforces the delivery state machine over email logs. Statuses
// only advance along PENDING, QUEUED, DELIVERED, OPENED, CLICKED, with
// FAILED as a terminal branch off the first two. Out-of-order webhook
// events therefore never downgrade a log.
type Tracker struct {
	logs LogStore
	now  func() time.Time
}

func New(logs LogStore) *Tracker {
	return &Tracker{logs: logs, now: time.Now}
}

// successRank orders the forward chain. FAILED is handled separately.
var successRank = map[storage.EmailStatus]int{
	storage.StatusPending:   0,
	storage.StatusQueued:    1,
	storage.StatusDelivered: 2,
	storage.StatusOpened:    3,
	storage.StatusClicked:   4,
}

func validTransition(from, to storage.EmailStatus) bool {
	if from == to {
		return true
	}
	if from == storage.StatusFailed {
		return false
	}
	if to == storage.StatusFailed {
		return from == storage.StatusPending || from == storage.StatusQueued
	}
	return successRank[to] > successRank[from]
}

// Get returns a single log.
func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (*storage.EmailLog, error) {
	return t.logs.FindByID(ctx, id)
}

// List returns logs matching the filter, newest first.
func (t *Tracker) List(ctx context.Context, f storage.ListLogsFilter) ([]storage.EmailLog, error) {
	return t.logs.List(ctx, f)
}

// UpdateStatus advances a log to the given status, merging the update
// fields into the record. Invalid transitions return ErrInvalidTransition
// wrapped with both statuses. A same-status update is permitted and only
// merges fields.
func (t *Tracker) UpdateStatus(ctx context.Context, id uuid.UUID, status storage.EmailStatus, u storage.LogUpdate) (*storage.EmailLog, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	current, err := t.logs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !validTransition(current.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	t.stampTimestamp(status, &u)
	return t.logs.Update(ctx, id, status, u)
}

// MarkFailed moves a log to FAILED with the error message. Logs that
// already progressed past QUEUED keep their status.
func (t *Tracker) MarkFailed(ctx context.Context, id uuid.UUID, message string, metadata map[string]any) (*storage.EmailLog, error) {
	return t.UpdateStatus(ctx, id, storage.StatusFailed, storage.LogUpdate{
		Error:    &message,
		Metadata: metadata,
	})
}

// RecordAttemptError notes a transient delivery failure without changing
// status, leaving the log eligible for the next queue attempt.
func (t *Tracker) RecordAttemptError(ctx context.Context, id uuid.UUID, message string) error {
	current, err := t.logs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	_, err = t.logs.Update(ctx, id, current.Status, storage.LogUpdate{Error: &message})
	return err
}

// stampTimestamp fills the lifecycle timestamp matching the new status
// when the caller did not supply one.
func (t *Tracker) stampTimestamp(status storage.EmailStatus, u *storage.LogUpdate) {
	now := t.now()
	switch status {
	case storage.StatusQueued:
		if u.SentAt == nil {
			u.SentAt = &now
		}
	case storage.StatusDelivered:
		if u.DeliveredAt == nil {
			u.DeliveredAt = &now
		}
	case storage.StatusOpened:
		if u.OpenedAt == nil {
			u.OpenedAt = &now
		}
	case storage.StatusClicked:
		if u.ClickedAt == nil {
			u.ClickedAt = &now
		}
	}
}
