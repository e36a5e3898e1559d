package webhook

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/mailroom/pkg/cache"
)

// SNS message types.
const (
	snsTypeNotification             = "Notification"
	snsTypeSubscriptionConfirmation = "SubscriptionConfirmation"
	snsTypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

var (
	ErrInvalidSignature = errors.New("webhook: invalid sns signature")
	ErrInvalidCertURL   = errors.New("webhook: untrusted signing cert url")
	ErrInvalidMessage   = errors.New("webhook: malformed sns message")
)

// SNSMessage is the envelope Amazon SNS posts to HTTP subscribers.
type SNSMessage struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	Token            string `json:"Token,omitempty"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string `json:"UnsubscribeURL,omitempty"`
}

// SNSValidator verifies the RSA signature on SNS messages against the
// signing certificate Amazon serves from the message's cert URL.
// Certificates are cached so repeated notifications do not refetch them.
type SNSValidator struct {
	client *http.Client
	certs  cache.Cache[[]byte]
}

func NewSNSValidator(client *http.Client) *SNSValidator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SNSValidator{
		client: client,
		certs:  cache.NewMemory[[]byte](cache.WithDefaultTTL(time.Hour)),
	}
}

// Close releases the certificate cache.
func (v *SNSValidator) Close() error {
	return v.certs.Close()
}

// Validate checks the message signature. Only SignatureVersion 1
// (SHA1 with RSA) is accepted.
func (v *SNSValidator) Validate(ctx context.Context, msg *SNSMessage) error {
	if msg.SignatureVersion != "1" {
		return fmt.Errorf("%w: unsupported signature version %q", ErrInvalidSignature, msg.SignatureVersion)
	}
	if err := validateCertURL(msg.SigningCertURL); err != nil {
		return err
	}

	canonical, err := canonicalString(msg)
	if err != nil {
		return err
	}
	signature, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	cert, err := v.signingCert(ctx, msg.SigningCertURL)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: signing cert key is not rsa", ErrInvalidSignature)
	}

	// SNS signature version 1 is SHA1 with RSA; crypto/x509 refuses SHA1
	// signatures, so verify against the raw public key.
	digest := sha1.Sum([]byte(canonical))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// validateCertURL guards against attacker-supplied certificate origins.
// The URL must be https on an amazonaws.com host with a clean path.
func validateCertURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertURL, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidCertURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host != "amazonaws.com" && !strings.HasSuffix(host, ".amazonaws.com") {
		return fmt.Errorf("%w: host %q", ErrInvalidCertURL, u.Hostname())
	}
	if strings.Contains(u.Path, "..") {
		return fmt.Errorf("%w: path traversal", ErrInvalidCertURL)
	}
	return nil
}

// canonicalString rebuilds the string Amazon signed: sorted field name
// and value pairs, each followed by a newline. The field set depends on
// the message type.
func canonicalString(msg *SNSMessage) (string, error) {
	var pairs []struct{ name, value string }
	switch msg.Type {
	case snsTypeNotification:
		pairs = []struct{ name, value string }{
			{"Message", msg.Message},
			{"MessageId", msg.MessageID},
		}
		if msg.Subject != "" {
			pairs = append(pairs, struct{ name, value string }{"Subject", msg.Subject})
		}
		pairs = append(pairs,
			struct{ name, value string }{"Timestamp", msg.Timestamp},
			struct{ name, value string }{"TopicArn", msg.TopicArn},
			struct{ name, value string }{"Type", msg.Type},
		)
	case snsTypeSubscriptionConfirmation, snsTypeUnsubscribeConfirmation:
		pairs = []struct{ name, value string }{
			{"Message", msg.Message},
			{"MessageId", msg.MessageID},
			{"SubscribeURL", msg.SubscribeURL},
			{"Timestamp", msg.Timestamp},
			{"Token", msg.Token},
			{"TopicArn", msg.TopicArn},
			{"Type", msg.Type},
		}
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}

	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p.name)
		b.WriteByte('\n')
		b.WriteString(p.value)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func (v *SNSValidator) signingCert(ctx context.Context, certURL string) (*x509.Certificate, error) {
	pemBytes, err := cache.GetOrSet(ctx, v.certs, certURL, func(ctx context.Context) ([]byte, time.Duration, error) {
		raw, err := v.fetchCert(ctx, certURL)
		return raw, 0, err
	})
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no pem block in signing cert", ErrInvalidSignature)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse signing cert: %v", ErrInvalidSignature, err)
	}
	return cert, nil
}

func (v *SNSValidator) fetchCert(ctx context.Context, certURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook: fetch signing cert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webhook: fetch signing cert: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
