package webhook_test

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailroom/internal/storage"
	"github.com/dmitrymomot/mailroom/internal/webhook"
	"github.com/dmitrymomot/mailroom/internal/worker"
	"github.com/dmitrymomot/mailroom/pkg/logger"
)

const testCertURL = "https://sns.us-east-1.amazonaws.com/SimpleNotificationService-test.pem"

// signer produces SNS messages signed with a throwaway certificate.
type signer struct {
	key     *rsa.PrivateKey
	certPEM []byte
}

func newSigner(t *testing.T) *signer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sns.amazonaws.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)

	return &signer{
		key:     key,
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

func (s *signer) sign(t *testing.T, msg *webhook.SNSMessage) {
	t.Helper()

	var pairs []string
	switch msg.Type {
	case "Notification":
		pairs = []string{"Message", msg.Message, "MessageId", msg.MessageID}
		if msg.Subject != "" {
			pairs = append(pairs, "Subject", msg.Subject)
		}
		pairs = append(pairs, "Timestamp", msg.Timestamp, "TopicArn", msg.TopicArn, "Type", msg.Type)
	default:
		pairs = []string{
			"Message", msg.Message, "MessageId", msg.MessageID, "SubscribeURL", msg.SubscribeURL,
			"Timestamp", msg.Timestamp, "Token", msg.Token, "TopicArn", msg.TopicArn, "Type", msg.Type,
		}
	}

	var b bytes.Buffer
	for _, p := range pairs {
		b.WriteString(p)
		b.WriteByte('\n')
	}

	digest := sha1.Sum(b.Bytes())
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA1, digest[:])
	require.NoError(t, err)

	msg.SignatureVersion = "1"
	msg.Signature = base64.StdEncoding.EncodeToString(sig)
	msg.SigningCertURL = testCertURL
}

// stubTransport serves the signing certificate for any request and
// records fetched URLs.
type stubTransport struct {
	certPEM []byte
	urls    []string
}

func (st *stubTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	st.urls = append(st.urls, r.URL.String())
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(st.certPEM)),
		Header:     http.Header{},
	}, nil
}

func notification(t *testing.T, s *signer, message string) *webhook.SNSMessage {
	t.Helper()
	msg := &webhook.SNSMessage{
		Type:      "Notification",
		MessageID: uuid.NewString(),
		TopicArn:  "arn:aws:sns:us-east-1:123456789012:ses-events",
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	s.sign(t, msg)
	return msg
}

func newValidator(t *testing.T, s *signer) (*webhook.SNSValidator, *stubTransport) {
	t.Helper()
	transport := &stubTransport{certPEM: s.certPEM}
	v := webhook.NewSNSValidator(&http.Client{Transport: transport})
	t.Cleanup(func() { _ = v.Close() })
	return v, transport
}

func TestSNSValidator_Validate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newSigner(t)

	t.Run("accepts properly signed notification", func(t *testing.T) {
		t.Parallel()

		v, _ := newValidator(t, s)
		assert.NoError(t, v.Validate(ctx, notification(t, s, `{"eventType":"Delivery"}`)))
	})

	t.Run("caches the signing certificate", func(t *testing.T) {
		t.Parallel()

		v, transport := newValidator(t, s)
		require.NoError(t, v.Validate(ctx, notification(t, s, "a")))
		require.NoError(t, v.Validate(ctx, notification(t, s, "b")))
		assert.Len(t, transport.urls, 1)
	})

	t.Run("rejects tampered message body", func(t *testing.T) {
		t.Parallel()

		v, _ := newValidator(t, s)
		msg := notification(t, s, "original")
		msg.Message = "tampered"
		assert.ErrorIs(t, v.Validate(ctx, msg), webhook.ErrInvalidSignature)
	})

	t.Run("rejects unsupported signature version", func(t *testing.T) {
		t.Parallel()

		v, _ := newValidator(t, s)
		msg := notification(t, s, "x")
		msg.SignatureVersion = "2"
		assert.ErrorIs(t, v.Validate(ctx, msg), webhook.ErrInvalidSignature)
	})

	t.Run("rejects cert url off amazonaws.com", func(t *testing.T) {
		t.Parallel()

		v, _ := newValidator(t, s)
		msg := notification(t, s, "x")
		msg.SigningCertURL = "https://evil.example.com/cert.pem"
		assert.ErrorIs(t, v.Validate(ctx, msg), webhook.ErrInvalidCertURL)
	})

	t.Run("rejects plain http cert url", func(t *testing.T) {
		t.Parallel()

		v, _ := newValidator(t, s)
		msg := notification(t, s, "x")
		msg.SigningCertURL = "http://sns.us-east-1.amazonaws.com/cert.pem"
		assert.ErrorIs(t, v.Validate(ctx, msg), webhook.ErrInvalidCertURL)
	})

	t.Run("rejects lookalike host suffix", func(t *testing.T) {
		t.Parallel()

		v, _ := newValidator(t, s)
		msg := notification(t, s, "x")
		msg.SigningCertURL = "https://notamazonaws.com/cert.pem"
		assert.ErrorIs(t, v.Validate(ctx, msg), webhook.ErrInvalidCertURL)
	})

	t.Run("rejects path traversal in cert url", func(t *testing.T) {
		t.Parallel()

		v, _ := newValidator(t, s)
		msg := notification(t, s, "x")
		msg.SigningCertURL = "https://sns.us-east-1.amazonaws.com/../cert.pem"
		assert.ErrorIs(t, v.Validate(ctx, msg), webhook.ErrInvalidCertURL)
	})
}

type fakeStatusTracker struct {
	updated    map[uuid.UUID]storage.EmailStatus
	failed     map[uuid.UUID]string
	lastUpdate storage.LogUpdate
	err        error
}

func newFakeStatusTracker() *fakeStatusTracker {
	return &fakeStatusTracker{
		updated: map[uuid.UUID]storage.EmailStatus{},
		failed:  map[uuid.UUID]string{},
	}
}

func (f *fakeStatusTracker) UpdateStatus(_ context.Context, id uuid.UUID, status storage.EmailStatus, u storage.LogUpdate) (*storage.EmailLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updated[id] = status
	f.lastUpdate = u
	return &storage.EmailLog{ID: id, Status: status}, nil
}

func (f *fakeStatusTracker) MarkFailed(_ context.Context, id uuid.UUID, message string, _ map[string]any) (*storage.EmailLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.failed[id] = message
	return &storage.EmailLog{ID: id, Status: storage.StatusFailed}, nil
}

func sesEventJSON(t *testing.T, logID uuid.UUID, fields map[string]any) string {
	t.Helper()
	event := map[string]any{
		"mail": map[string]any{
			"messageId": "ses-msg-1",
			"tags":      map[string][]string{worker.LogTagKey: {logID.String()}},
		},
	}
	for k, v := range fields {
		event[k] = v
	}
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return string(raw)
}

func TestProcessor_Process(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newSigner(t)

	newProcessor := func(t *testing.T, tr webhook.StatusTracker) (*webhook.Processor, *stubTransport) {
		t.Helper()
		v, transport := newValidator(t, s)
		return webhook.NewProcessor(v, tr, &http.Client{Transport: transport}, logger.NewNop()), transport
	}

	process := func(t *testing.T, p *webhook.Processor, msg *webhook.SNSMessage) error {
		t.Helper()
		body, err := json.Marshal(msg)
		require.NoError(t, err)
		return p.Process(ctx, body)
	}

	t.Run("delivery event advances log to delivered", func(t *testing.T) {
		t.Parallel()

		tr := newFakeStatusTracker()
		p, _ := newProcessor(t, tr)
		logID := uuid.New()
		at := time.Now().UTC().Truncate(time.Second)

		message := sesEventJSON(t, logID, map[string]any{
			"eventType": "Delivery",
			"delivery":  map[string]any{"timestamp": at.Format(time.RFC3339)},
		})
		require.NoError(t, process(t, p, notification(t, s, message)))
		assert.Equal(t, storage.StatusDelivered, tr.updated[logID])
		require.NotNil(t, tr.lastUpdate.DeliveredAt)
		assert.Equal(t, at, tr.lastUpdate.DeliveredAt.UTC())
	})

	t.Run("open and click events advance the chain", func(t *testing.T) {
		t.Parallel()

		tr := newFakeStatusTracker()
		p, _ := newProcessor(t, tr)
		logID := uuid.New()

		openMsg := sesEventJSON(t, logID, map[string]any{"eventType": "Open"})
		require.NoError(t, process(t, p, notification(t, s, openMsg)))
		assert.Equal(t, storage.StatusOpened, tr.updated[logID])

		clickMsg := sesEventJSON(t, logID, map[string]any{
			"eventType": "Click",
			"click":     map[string]any{"link": "https://example.com/invoice"},
		})
		require.NoError(t, process(t, p, notification(t, s, clickMsg)))
		assert.Equal(t, storage.StatusClicked, tr.updated[logID])
		assert.Equal(t, "https://example.com/invoice", tr.lastUpdate.Metadata["clicked_link"])
	})

	t.Run("bounce marks the log failed with diagnostics", func(t *testing.T) {
		t.Parallel()

		tr := newFakeStatusTracker()
		p, _ := newProcessor(t, tr)
		logID := uuid.New()

		message := sesEventJSON(t, logID, map[string]any{
			"notificationType": "Bounce",
			"bounce": map[string]any{
				"bounceType":        "Permanent",
				"bouncedRecipients": []map[string]any{{"diagnosticCode": "550 user unknown"}},
			},
		})
		require.NoError(t, process(t, p, notification(t, s, message)))
		assert.Contains(t, tr.failed[logID], "permanent")
		assert.Contains(t, tr.failed[logID], "550 user unknown")
	})

	t.Run("event without log tag is dropped", func(t *testing.T) {
		t.Parallel()

		tr := newFakeStatusTracker()
		p, _ := newProcessor(t, tr)

		message := `{"eventType":"Delivery","mail":{"messageId":"ses-msg-2"}}`
		require.NoError(t, process(t, p, notification(t, s, message)))
		assert.Empty(t, tr.updated)
	})

	t.Run("out-of-order event is swallowed", func(t *testing.T) {
		t.Parallel()

		tr := newFakeStatusTracker()
		tr.err = storage.ErrNotFound
		p, _ := newProcessor(t, tr)

		message := sesEventJSON(t, uuid.New(), map[string]any{"eventType": "Delivery"})
		assert.NoError(t, process(t, p, notification(t, s, message)))
	})

	t.Run("unsigned message is rejected", func(t *testing.T) {
		t.Parallel()

		tr := newFakeStatusTracker()
		p, _ := newProcessor(t, tr)

		msg := notification(t, s, sesEventJSON(t, uuid.New(), map[string]any{"eventType": "Delivery"}))
		msg.Signature = base64.StdEncoding.EncodeToString([]byte("garbage"))
		body, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.ErrorIs(t, p.Process(ctx, body), webhook.ErrInvalidSignature)
		assert.Empty(t, tr.updated)
	})

	t.Run("subscription confirmation fetches subscribe url", func(t *testing.T) {
		t.Parallel()

		tr := newFakeStatusTracker()
		p, transport := newProcessor(t, tr)

		msg := &webhook.SNSMessage{
			Type:         "SubscriptionConfirmation",
			MessageID:    uuid.NewString(),
			TopicArn:     "arn:aws:sns:us-east-1:123456789012:ses-events",
			Message:      "You have chosen to subscribe",
			Token:        "tok-123",
			SubscribeURL: "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription&Token=tok-123",
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		}
		s.sign(t, msg)
		require.NoError(t, process(t, p, msg))
		assert.Contains(t, transport.urls, msg.SubscribeURL)
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		t.Parallel()

		tr := newFakeStatusTracker()
		p, _ := newProcessor(t, tr)
		assert.ErrorIs(t, p.Process(ctx, []byte("not json")), webhook.ErrInvalidMessage)
	})
}
