// Package resend implements mailer.Sender using the Resend API.
package resend

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"

	"github.com/dmitrymomot/mailroom/pkg/mailer"
)

// Config holds Resend email provider configuration.
type Config struct {
	APIKey      string `env:"RESEND_API_KEY"`
	SenderEmail string `env:"RESEND_FROM_EMAIL"`
	SenderName  string `env:"RESEND_FROM_NAME"`
}

// Sender implements mailer.Sender using the Resend API.
type Sender struct {
	client *resend.Client
	config Config
}

// New creates a new Resend sender.
func New(cfg Config) *Sender {
	return &Sender{
		client: resend.NewClient(cfg.APIKey),
		config: cfg,
	}
}

// Send implements mailer.Sender.
func (s *Sender) Send(ctx context.Context, email *mailer.Email) (string, error) {
	if err := email.Validate(); err != nil {
		return "", err
	}

	from := email.From
	if from == "" {
		from = mailer.Recipient(s.config.SenderName, s.config.SenderEmail)
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      email.To,
		Cc:      email.CC,
		Bcc:     email.BCC,
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
	}

	if len(email.Attachments) > 0 {
		req.Attachments = convertAttachments(email.Attachments)
	}
	if len(email.Tags) > 0 {
		req.Tags = convertTags(email.Tags)
	}

	sent, err := s.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend: send email: %w", err)
	}

	return sent.Id, nil
}

func convertAttachments(attachments []mailer.Attachment) []*resend.Attachment {
	result := make([]*resend.Attachment, len(attachments))
	for i, a := range attachments {
		result[i] = &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		}
	}
	return result
}

func convertTags(tags map[string]string) []resend.Tag {
	result := make([]resend.Tag, 0, len(tags))
	for name, value := range tags {
		result = append(result, resend.Tag{Name: name, Value: value})
	}
	return result
}
