package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/internal/tracker"
	"github.com/dmitrymomot/mailroom/internal/worker"
)

// StatusTracker advances email logs in response to provider events.
type StatusTracker interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status storage.EmailStatus, u storage.LogUpdate) (*storage.EmailLog, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string, metadata map[string]any) (*storage.EmailLog, error)
}

// sesEvent is the SES event payload carried inside an SNS notification.
// Newer events set eventType; bounce and delivery notifications from the
// legacy feedback pipeline set notificationType instead.
type sesEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID string `json:"messageId"`
		Tags      map[string][]string `json:"tags"`
	} `json:"mail"`
	Delivery *struct {
		Timestamp time.Time `json:"timestamp"`
	} `json:"delivery"`
	Bounce *struct {
		Timestamp         time.Time `json:"timestamp"`
		BounceType        string    `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint *struct {
		Timestamp             time.Time `json:"timestamp"`
		ComplaintFeedbackType string    `json:"complaintFeedbackType"`
	} `json:"complaint"`
	Open *struct {
		Timestamp time.Time `json:"timestamp"`
	} `json:"open"`
	Click *struct {
		Timestamp time.Time `json:"timestamp"`
		Link      string    `json:"link"`
	} `json:"click"`
}

func (e *sesEvent) kind() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.NotificationType
}

// Processor consumes SNS-wrapped SES delivery events and reflects them
// onto email logs. Malformed or unverifiable messages are dropped and
// logged, never surfaced to the sender; SNS retries are pointless for
// them.
type Processor struct {
	validator *SNSValidator
	tracker   StatusTracker
	client    *http.Client
	log       *slog.Logger
}

func NewProcessor(validator *SNSValidator, tracker StatusTracker, client *http.Client, log *slog.Logger) *Processor {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Processor{validator: validator, tracker: tracker, client: client, log: log}
}

// Process handles one raw SNS delivery. Subscription confirmations are
// confirmed by fetching the subscribe URL; notifications update the
// matching email log.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	var msg SNSMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := p.validator.Validate(ctx, &msg); err != nil {
		return err
	}

	switch msg.Type {
	case snsTypeSubscriptionConfirmation:
		return p.confirmSubscription(ctx, msg.SubscribeURL)
	case snsTypeUnsubscribeConfirmation:
		p.log.InfoContext(ctx, "sns subscription removed", slog.String("topic", msg.TopicArn))
		return nil
	case snsTypeNotification:
		return p.processNotification(ctx, []byte(msg.Message))
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}
}

func (p *Processor) confirmSubscription(ctx context.Context, subscribeURL string) error {
	if err := validateCertURL(subscribeURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: confirm subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook: confirm subscription: unexpected status %d", resp.StatusCode)
	}
	p.log.InfoContext(ctx, "sns subscription confirmed")
	return nil
}

func (p *Processor) processNotification(ctx context.Context, message []byte) error {
	var event sesEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return fmt.Errorf("%w: ses event: %v", ErrInvalidMessage, err)
	}

	logID, ok := p.extractLogID(ctx, &event)
	if !ok {
		return nil
	}

	var err error
	switch kind := event.kind(); kind {
	case "Delivery":
		u := storage.LogUpdate{}
		if event.Delivery != nil && !event.Delivery.Timestamp.IsZero() {
			u.DeliveredAt = &event.Delivery.Timestamp
		}
		_, err = p.tracker.UpdateStatus(ctx, logID, storage.StatusDelivered, u)
	case "Open":
		u := storage.LogUpdate{}
		if event.Open != nil && !event.Open.Timestamp.IsZero() {
			u.OpenedAt = &event.Open.Timestamp
		}
		_, err = p.tracker.UpdateStatus(ctx, logID, storage.StatusOpened, u)
	case "Click":
		u := storage.LogUpdate{}
		if event.Click != nil {
			if !event.Click.Timestamp.IsZero() {
				u.ClickedAt = &event.Click.Timestamp
			}
			if event.Click.Link != "" {
				u.Metadata = map[string]any{"clicked_link": event.Click.Link}
			}
		}
		_, err = p.tracker.UpdateStatus(ctx, logID, storage.StatusClicked, u)
	case "Bounce":
		_, err = p.tracker.MarkFailed(ctx, logID, p.bounceMessage(&event), map[string]any{"event": "bounce"})
	case "Complaint":
		_, err = p.tracker.MarkFailed(ctx, logID, "recipient complaint", map[string]any{"event": "complaint"})
	default:
		p.log.InfoContext(ctx, "ignoring unhandled ses event", slog.String("event", kind))
		return nil
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		p.log.WarnContext(ctx, "ses event for unknown email log", slog.String("log_id", logID.String()))
		return nil
	case errors.Is(err, tracker.ErrInvalidTransition):
		// Out-of-order or late event; the log already moved on.
		p.log.InfoContext(ctx, "dropping out-of-order ses event",
			slog.String("log_id", logID.String()),
			slog.String("event", event.kind()))
		return nil
	}
	return err
}

// extractLogID pulls the email log id out of the message tags stamped at
// send time.
func (p *Processor) extractLogID(ctx context.Context, event *sesEvent) (uuid.UUID, bool) {
	values := event.Mail.Tags[worker.LogTagKey]
	if len(values) == 0 || values[0] == "" {
		p.log.WarnContext(ctx, "ses event without log tag",
			slog.String("message_id", event.Mail.MessageID),
			slog.String("event", event.kind()))
		return uuid.Nil, false
	}

	logID, err := uuid.Parse(values[0])
	if err != nil {
		p.log.WarnContext(ctx, "ses event with malformed log tag",
			slog.String("tag", values[0]),
			slog.Any("error", err))
		return uuid.Nil, false
	}
	return logID, true
}

func (p *Processor) bounceMessage(event *sesEvent) string {
	if event.Bounce == nil {
		return "bounced"
	}
	parts := []string{"bounced"}
	if event.Bounce.BounceType != "" {
		parts = append(parts, strings.ToLower(event.Bounce.BounceType))
	}
	for _, r := range event.Bounce.BouncedRecipients {
		if r.DiagnosticCode != "" {
			parts = append(parts, r.DiagnosticCode)
			break
		}
	}
	return strings.Join(parts, ": ")
}
