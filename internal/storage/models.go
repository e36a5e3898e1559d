package storage

import (
	"time"

	"github.com/google/uuid"
)

// AuthorizedSystem is a tenant identity: a client application granted API
// access under its own permission set. The API key is persisted only as a
// bcrypt hash.
type AuthorizedSystem struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	APIKeyHash     string    `json:"-"`
	Permissions    []string  `json:"permissions"`
	AllowedOrigins []string  `json:"allowed_origins"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Permission is immutable reference data, always referenced by code.
type Permission struct {
	ID       uuid.UUID `json:"id"`
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	Category string    `json:"category,omitempty"`
	PlanTag  string    `json:"plan_tag,omitempty"`
}

// EmailTemplate is reusable content with {{variable}} placeholders in its
// subject and body patterns.
type EmailTemplate struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	ContentHTML string    `json:"content_html,omitempty"`
	ContentText string    `json:"content_text,omitempty"`
	Variables   []string  `json:"variables"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EmailStatus is the delivery lifecycle state of an EmailLog.
type EmailStatus string

const (
	StatusPending   EmailStatus = "PENDING"
	StatusQueued    EmailStatus = "QUEUED"
	StatusDelivered EmailStatus = "DELIVERED"
	StatusOpened    EmailStatus = "OPENED"
	StatusClicked   EmailStatus = "CLICKED"
	StatusFailed    EmailStatus = "FAILED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s EmailStatus) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusDelivered, StatusOpened, StatusClicked, StatusFailed:
		return true
	}
	return false
}

// AttachmentMeta is the attachment snapshot persisted on an EmailLog.
// Content itself is not stored, only what was declared at submission.
type AttachmentMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Format      string `json:"format,omitempty"`
}

// EmailLog is the durable record of one send attempt and its delivery
// lifecycle. JobID links the log to its queue job and serves as the
// idempotency key across redeliveries.
type EmailLog struct {
	ID          uuid.UUID        `json:"id"`
	JobID       *int64           `json:"job_id,omitempty"`
	Recipient   string           `json:"to"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body,omitempty"`
	Status      EmailStatus      `json:"status"`
	TemplateID  *uuid.UUID       `json:"template_id,omitempty"`
	Attachments []AttachmentMeta `json:"attachments,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Error       string           `json:"error,omitempty"`
	SentAt      *time.Time       `json:"sent_at,omitempty"`
	DeliveredAt *time.Time       `json:"delivered_at,omitempty"`
	OpenedAt    *time.Time       `json:"opened_at,omitempty"`
	ClickedAt   *time.Time       `json:"clicked_at,omitempty"`
	SystemID    uuid.UUID        `json:"system_id"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
