package ses

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"

	"github.com/dmitrymomot/mailroom/pkg/mailer"
)

// buildRawMessage assembles an RFC 5322 message: multipart/mixed wrapping
// a multipart/alternative body part plus one part per attachment.
func buildRawMessage(from string, email *mailer.Email) ([]byte, error) {
	var buf bytes.Buffer

	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(email.To, ", "))
	if len(email.CC) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(email.CC, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	if err := writeBodyPart(mixed, email); err != nil {
		return nil, err
	}

	for _, att := range email.Attachments {
		if err := writeAttachmentPart(mixed, att); err != nil {
			return nil, err
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func writeBodyPart(mixed *multipart.Writer, email *mailer.Email) error {
	altBuf := &bytes.Buffer{}
	alt := multipart.NewWriter(altBuf)

	// Plain text first so clients prefer the HTML alternative.
	if email.Text != "" {
		if err := writeTextPart(alt, "text/plain", email.Text); err != nil {
			return err
		}
	}
	if email.HTML != "" {
		if err := writeTextPart(alt, "text/html", email.HTML); err != nil {
			return err
		}
	}
	if err := alt.Close(); err != nil {
		return err
	}

	part, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", alt.Boundary())},
	})
	if err != nil {
		return err
	}
	_, err = part.Write(altBuf.Bytes())
	return err
}

func writeTextPart(w *multipart.Writer, contentType, content string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType + `; charset="UTF-8"`},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}

func writeAttachmentPart(w *multipart.Writer, att mailer.Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", att.Filename)},
	})
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(att.Content)
	// RFC 2045 line length limit.
	for len(encoded) > 76 {
		if _, err := part.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = part.Write([]byte(encoded + "\r\n"))
	return err
}
