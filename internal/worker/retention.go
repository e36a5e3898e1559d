package worker

import (
	"context"
	"log/slog"
	"time"
)

// LogPurger deletes aged logs.
type LogPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionTask prunes email logs past the retention window. It runs
// nightly off-peak.
type RetentionTask struct {
	logs      LogPurger
	retention time.Duration
	log       *slog.Logger
}

func NewRetentionTask(logs LogPurger, retention time.Duration, log *slog.Logger) *RetentionTask {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &RetentionTask{logs: logs, retention: retention, log: log}
}

func (t *RetentionTask) Name() string { return "purge_email_logs" }

func (t *RetentionTask) Schedule() string { return "0 3 * * *" }

func (t *RetentionTask) Handle(ctx context.Context) error {
	cutoff := time.Now().Add(-t.retention)
	deleted, err := t.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		t.log.InfoContext(ctx, "purged aged email logs",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff))
	}
	return nil
}
