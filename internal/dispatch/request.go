package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Send request kinds.
const (
	TypeDirect   = "direct"
	TypeTemplate = "template"
)

// MaxAttachmentSize caps a single decoded attachment at 10 MiB.
const MaxAttachmentSize = 10 << 20

const maxSubjectLen = 255

// ErrInvalidRequest is the base of every validation failure; the wrapped
// message names the offending field.
var ErrInvalidRequest = errors.New("dispatch: invalid request")

// allowedFormats is the attachment extension allowlist, matched
// case-insensitively against the filename extension.
var allowedFormats = map[string]struct{}{
	"pdf":  {},
	"docx": {},
	"png":  {},
	"jpeg": {},
	"jpg":  {},
}

// Attachment is a file enclosed with a send request. Content arrives
// base64-encoded on the wire and is decoded by encoding/json.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     []byte `json:"content"`
}

// Format returns the lowercased filename extension without the dot.
func (a Attachment) Format() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(a.Filename), "."))
}

// Recipients is a list of email addresses that also accepts a single
// JSON string on the wire, so "to": "ada@example.com" and
// "to": ["ada@example.com", "bob@example.com"] both decode.
type Recipients []string

func (r *Recipients) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*r = Recipients{single}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*r = Recipients(list)
	return nil
}

// Join renders the list as one comma-separated string for storage in
// the log's recipient column.
func (r Recipients) Join() string {
	return strings.Join(r, ", ")
}

// SendRequest is the body of a send call. Type selects between a direct
// send, which carries its own subject and content, and a template send,
// which references a stored template plus variables.
type SendRequest struct {
	Type        string            `json:"type"`
	To          Recipients        `json:"to"`
	CC          []string          `json:"cc,omitempty"`
	BCC         []string          `json:"bcc,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	HTML        string            `json:"html,omitempty"`
	Text        string            `json:"text,omitempty"`
	TemplateID  uuid.UUID         `json:"template_id,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// Validate checks the request against the rules of its type.
func (r SendRequest) Validate() error {
	switch r.Type {
	case TypeDirect:
		if err := r.validateDirect(); err != nil {
			return err
		}
	case TypeTemplate:
		if r.TemplateID == uuid.Nil {
			return fmt.Errorf("%w: template_id is required", ErrInvalidRequest)
		}
		if r.Variables == nil {
			return fmt.Errorf("%w: variables is required", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: type must be %q or %q", ErrInvalidRequest, TypeDirect, TypeTemplate)
	}

	if len(r.To) == 0 {
		return fmt.Errorf("%w: to is required", ErrInvalidRequest)
	}
	addrs := make([]string, 0, len(r.To)+len(r.CC)+len(r.BCC))
	addrs = append(addrs, r.To...)
	addrs = append(addrs, r.CC...)
	addrs = append(addrs, r.BCC...)
	for _, addr := range addrs {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("%w: invalid email address %q", ErrInvalidRequest, addr)
		}
	}

	return r.validateAttachments()
}

func (r SendRequest) validateDirect() error {
	if l := len(r.Subject); l == 0 || l > maxSubjectLen {
		return fmt.Errorf("%w: subject must be between 1 and %d characters", ErrInvalidRequest, maxSubjectLen)
	}
	if r.HTML == "" && r.Text == "" {
		return fmt.Errorf("%w: html or text content is required", ErrInvalidRequest)
	}
	return nil
}

func (r SendRequest) validateAttachments() error {
	for _, a := range r.Attachments {
		if a.Filename == "" {
			return fmt.Errorf("%w: attachment filename is required", ErrInvalidRequest)
		}
		if _, ok := allowedFormats[a.Format()]; !ok {
			return fmt.Errorf("%w: attachment format %q is not allowed", ErrInvalidRequest, a.Format())
		}
		if len(a.Content) == 0 {
			return fmt.Errorf("%w: attachment %q has no content", ErrInvalidRequest, a.Filename)
		}
		if len(a.Content) > MaxAttachmentSize {
			return fmt.Errorf("%w: attachment %q exceeds %d bytes", ErrInvalidRequest, a.Filename, MaxAttachmentSize)
		}
	}
	return nil
}
