// Package mailer defines the outbound email types and the Sender
// interface implemented by transport providers (AWS SES, Resend).
package mailer

import (
	"context"
	"errors"
)

var (
	// ErrNoRecipient indicates no recipient was specified.
	ErrNoRecipient = errors.New("mailer: email must have at least one recipient")

	// ErrNoContent indicates neither HTML nor text content was provided.
	ErrNoContent = errors.New("mailer: email must have HTML or text content")

	// ErrSendFailed indicates the provider rejected or failed the send.
	ErrSendFailed = errors.New("mailer: failed to send email")
)

// Recipient formats a name and email into RFC 5322 address format.
// Returns "Name <email>" if name is provided, otherwise just email.
func Recipient(name, email string) string {
	if name == "" {
		return email
	}
	return name + " <" + email + ">"
}

// Sender is the minimal interface email providers implement. It accepts a
// fully-prepared Email and returns the provider-assigned message id.
type Sender interface {
	Send(ctx context.Context, email *Email) (messageID string, err error)
}

// Email is a fully-prepared message ready for sending.
type Email struct {
	Subject     string
	HTML        string
	Text        string
	From        string            // override default sender when non-empty
	To          []string          // at least one required
	CC          []string
	BCC         []string
	Tags        map[string]string // provider tags for downstream correlation
	Attachments []Attachment
}

// Attachment is a decoded file attached to an email.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Validate checks the invariants every provider relies on.
func (e *Email) Validate() error {
	if len(e.To) == 0 {
		return ErrNoRecipient
	}
	if e.HTML == "" && e.Text == "" {
		return ErrNoContent
	}
	return nil
}
