// Package ses implements mailer.Sender using the AWS SES v2 API.
// Messages without attachments go out as simple content; attachments
// require assembling a raw MIME message.
package ses

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/dmitrymomot/mailroom/pkg/mailer"
)

// Sender implements mailer.Sender using AWS SES.
type Sender struct {
	client *sesv2.Client
	config Config
}

// New creates a new SES sender. When no static credentials are configured,
// the SDK falls back to its default provider chain (instance profile,
// env, shared config).
func New(cfg Config) *Sender {
	opts := sesv2.Options{Region: cfg.Region}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	return &Sender{
		client: sesv2.New(opts),
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

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  email.To,
			CcAddresses:  email.CC,
			BccAddresses: email.BCC,
		},
		EmailTags: convertTags(email.Tags),
	}
	if s.config.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.config.ConfigurationSet)
	}

	if len(email.Attachments) > 0 {
		raw, err := buildRawMessage(from, email)
		if err != nil {
			return "", fmt.Errorf("ses: build raw message: %w", err)
		}
		input.Content = &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		}
	} else {
		input.Content = &types.EmailContent{
			Simple: simpleMessage(email),
		}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses: send email: %w", err)
	}

	return aws.ToString(out.MessageId), nil
}

func simpleMessage(email *mailer.Email) *types.Message {
	utf8 := aws.String("UTF-8")

	body := &types.Body{}
	if email.HTML != "" {
		body.Html = &types.Content{Data: aws.String(email.HTML), Charset: utf8}
	}
	if email.Text != "" {
		body.Text = &types.Content{Data: aws.String(email.Text), Charset: utf8}
	}

	return &types.Message{
		Subject: &types.Content{Data: aws.String(email.Subject), Charset: utf8},
		Body:    body,
	}
}

func convertTags(tags map[string]string) []types.MessageTag {
	if len(tags) == 0 {
		return nil
	}
	result := make([]types.MessageTag, 0, len(tags))
	for name, value := range tags {
		result = append(result, types.MessageTag{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}
	return result
}
