package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailroom/internal/dispatch"
	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/internal/template"
	"github.com/dmitrymomot/mailroom/pkg/job"
	"github.com/dmitrymomot/mailroom/pkg/mailer"
)

// Provider message tag names stamped on every outgoing email. LogTagKey
// is the one delivery webhooks use to correlate events back to a log;
// the others attribute the message to its tenant and template.
const (
	LogTagKey      = "email_log_id"
	SystemTagKey   = "system_id"
	TemplateTagKey = "template_id"
)

// ErrTemplateNotFound cancels a job whose referenced template is missing
// or inactive. Retrying cannot fix that, so the job never redelivers.
var ErrTemplateNotFound = errors.New("worker: template not found or inactive")

// LogStore creates and looks up logs for delivery attempts.
type LogStore interface {
	Create(ctx context.Context, p storage.CreateLogParams) (*storage.EmailLog, error)
	FindByJobID(ctx context.Context, jobID int64) (*storage.EmailLog, error)
}

// StatusTracker advances log status through the delivery state machine.
type StatusTracker interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status storage.EmailStatus, u storage.LogUpdate) (*storage.EmailLog, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string, metadata map[string]any) (*storage.EmailLog, error)
	RecordAttemptError(ctx context.Context, id uuid.UUID, message string) error
}

// ContentRenderer resolves template sends into concrete content.
type ContentRenderer interface {
	Render(ctx context.Context, id uuid.UUID, vars map[string]string) (*template.Rendered, error)
}

// SendTask delivers queued emails. Each run is idempotent on the queue
// job id: a redelivery reuses the log of the previous attempt and never
// calls the provider again once one attempt reached QUEUED.
type SendTask struct {
	logs        LogStore
	tracker     StatusTracker
	renderer    ContentRenderer
	sender      mailer.Sender
	sendTimeout time.Duration
	log         *slog.Logger
}

func NewSendTask(logs LogStore, tracker StatusTracker, renderer ContentRenderer, sender mailer.Sender, sendTimeout time.Duration, log *slog.Logger) *SendTask {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &SendTask{logs: logs, tracker: tracker, renderer: renderer, sender: sender, sendTimeout: sendTimeout, log: log}
}

func (t *SendTask) Name() string { return dispatch.TaskSendEmail }

func (t *SendTask) Handle(ctx context.Context, p dispatch.SendPayload) error {
	meta, ok := job.MetaFromContext(ctx)
	if !ok {
		return job.Terminal(errors.New("worker: job meta missing from context"))
	}

	subject, html, text, renderErr := t.resolveContent(ctx, p.Data)
	if renderErr != nil && !errors.Is(renderErr, ErrTemplateNotFound) {
		// Transient storage failure; let the queue retry.
		return renderErr
	}

	logEntry, err := t.findOrCreateLog(ctx, meta.ID, p, subject, html, text)
	if err != nil {
		return err
	}
	if logEntry == nil {
		// A previous attempt already settled this job.
		return nil
	}

	if renderErr != nil {
		if _, err := t.tracker.MarkFailed(ctx, logEntry.ID, renderErr.Error(), nil); err != nil {
			return err
		}
		return job.Terminal(renderErr)
	}

	messageID, sendErr := t.send(ctx, p, logEntry.ID, subject, html, text)
	if sendErr != nil {
		return t.recordFailure(ctx, logEntry.ID, meta, sendErr)
	}

	if _, err := t.tracker.UpdateStatus(ctx, logEntry.ID, storage.StatusQueued, storage.LogUpdate{
		Metadata: map[string]any{"message_id": messageID},
	}); err != nil {
		return err
	}

	t.log.InfoContext(ctx, "email handed to provider",
		slog.String("log_id", logEntry.ID.String()),
		slog.String("message_id", messageID),
		slog.Int64("job_id", meta.ID))
	return nil
}

// resolveContent returns the subject and bodies of the email, rendering
// the template for template sends. A missing template is reported as
// ErrTemplateNotFound.
func (t *SendTask) resolveContent(ctx context.Context, req dispatch.SendRequest) (subject, html, text string, err error) {
	if req.Type != dispatch.TypeTemplate {
		return req.Subject, req.HTML, req.Text, nil
	}

	rendered, err := t.renderer.Render(ctx, req.TemplateID, req.Variables)
	if err != nil {
		return "", "", "", fmt.Errorf("worker: render template: %w", err)
	}
	if rendered == nil {
		return "", "", "", fmt.Errorf("%w: %s", ErrTemplateNotFound, req.TemplateID)
	}
	return rendered.Subject, rendered.HTML, rendered.Text, nil
}

// findOrCreateLog returns the log to process, creating one on the first
// attempt. It returns (nil, nil) when the job already reached a settled
// status and nothing remains to do.
func (t *SendTask) findOrCreateLog(ctx context.Context, jobID int64, p dispatch.SendPayload, subject, html, text string) (*storage.EmailLog, error) {
	existing, err := t.logs.FindByJobID(ctx, jobID)
	switch {
	case err == nil:
		if existing.Status != storage.StatusPending {
			t.log.InfoContext(ctx, "skipping settled job",
				slog.Int64("job_id", jobID),
				slog.String("status", string(existing.Status)))
			return nil, nil
		}
		return existing, nil
	case errors.Is(err, storage.ErrNotFound):
		// First attempt, fall through to create.
	default:
		return nil, err
	}

	body := html
	if body == "" {
		body = text
	}

	params := storage.CreateLogParams{
		JobID:     &jobID,
		Recipient: p.Data.To.Join(),
		Subject:   subject,
		Body:      body,
		Metadata:  p.Data.Metadata,
		SystemID:  p.SystemID,
	}
	if p.Data.Type == dispatch.TypeTemplate {
		id := p.Data.TemplateID
		params.TemplateID = &id
	}
	for _, a := range p.Data.Attachments {
		params.Attachments = append(params.Attachments, storage.AttachmentMeta{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        int64(len(a.Content)),
			Format:      a.Format(),
		})
	}

	created, err := t.logs.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("worker: create email log: %w", err)
	}
	return created, nil
}

func (t *SendTask) send(ctx context.Context, p dispatch.SendPayload, logID uuid.UUID, subject, html, text string) (string, error) {
	req := p.Data
	tags := map[string]string{
		LogTagKey:    logID.String(),
		SystemTagKey: p.SystemID.String(),
	}
	if req.Type == dispatch.TypeTemplate {
		tags[TemplateTagKey] = req.TemplateID.String()
	}

	email := &mailer.Email{
		Subject: subject,
		HTML:    html,
		Text:    text,
		To:      req.To,
		CC:      req.CC,
		BCC:     req.BCC,
		Tags:    tags,
	}
	for _, a := range req.Attachments {
		email.Attachments = append(email.Attachments, mailer.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}

	sendCtx, cancel := context.WithTimeout(ctx, t.sendTimeout)
	defer cancel()
	return t.sender.Send(sendCtx, email)
}

// recordFailure marks the log FAILED when no attempts remain, otherwise
// records the error and leaves the log PENDING for the next attempt.
// Either way the provider error propagates so the queue applies its
// retry policy.
func (t *SendTask) recordFailure(ctx context.Context, logID uuid.UUID, meta job.Meta, sendErr error) error {
	final := meta.Attempt >= meta.MaxAttempts
	t.log.WarnContext(ctx, "email delivery attempt failed",
		slog.String("log_id", logID.String()),
		slog.Int("attempt", meta.Attempt),
		slog.Int("max_attempts", meta.MaxAttempts),
		slog.Bool("final", final),
		slog.Any("error", sendErr))

	if final {
		if _, err := t.tracker.MarkFailed(ctx, logID, sendErr.Error(), nil); err != nil {
			return errors.Join(sendErr, err)
		}
	} else if err := t.tracker.RecordAttemptError(ctx, logID, sendErr.Error()); err != nil {
		return errors.Join(sendErr, err)
	}
	return sendErr
}
