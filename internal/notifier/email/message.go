package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"alert-mailer/internal/notifier/email/provider"
	"alert-mailer/internal/notifier/payload"
)

// base64LineLength is the RFC 2045 maximum encoded line length.
const base64LineLength = 76

// buildMessage builds a multipart/related message: a multipart/alternative
// text and HTML body followed by the inline images it references.
func buildMessage(from string, to []string, messageID string, p payload.EmailPayload, images []provider.Attachment, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	related := multipart.NewWriter(&body)

	alternative, err := buildAlternative(p)
	if err != nil {
		return nil, err
	}
	part, err := related.CreatePart(textproto.MIMEHeader{
		"Content-Type": {mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": alternative.boundary})},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create alternative part: %w", err)
	}
	if _, err := part.Write(alternative.body); err != nil {
		return nil, fmt.Errorf("failed to write alternative part: %w", err)
	}

	for _, img := range images {
		if err := writeImage(related, img); err != nil {
			return nil, err
		}
	}
	if err := related.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message: %w", err)
	}

	var msg bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&msg, "%s: %s\r\n", k, v) }
	header("From", from)
	header("To", strings.Join(to, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", p.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", "<"+messageID+">")
	header("MIME-Version", "1.0")
	header("Content-Type", mime.FormatMediaType("multipart/related", map[string]string{
		"boundary": related.Boundary(),
		"type":     "multipart/alternative",
	}))
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

type alternativeBody struct {
	boundary string
	body     []byte
}

func buildAlternative(p payload.EmailPayload) (alternativeBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", p.Text},
		{"text/html; charset=UTF-8", p.HTML},
	}
	for _, pt := range parts {
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {pt.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return alternativeBody{}, fmt.Errorf("failed to create body part: %w", err)
		}
		qp := quotedprintable.NewWriter(part)
		if _, err := qp.Write([]byte(pt.content)); err != nil {
			return alternativeBody{}, fmt.Errorf("failed to write body part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return alternativeBody{}, fmt.Errorf("failed to write body part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return alternativeBody{}, fmt.Errorf("failed to close alternative part: %w", err)
	}
	return alternativeBody{boundary: w.Boundary(), body: buf.Bytes()}, nil
}

func writeImage(w *multipart.Writer, img provider.Attachment) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {img.ContentType},
		"Content-Transfer-Encoding": {"base64"},
		"Content-ID":                {"<" + img.ContentID + ">"},
		"Content-Disposition":       {mime.FormatMediaType("inline", map[string]string{"filename": img.Filename})},
	})
	if err != nil {
		return fmt.Errorf("failed to create image part: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(img.Data)
	for len(encoded) > 0 {
		n := base64LineLength
		if n > len(encoded) {
			n = len(encoded)
		}
		if _, err := part.Write([]byte(encoded[:n] + "\r\n")); err != nil {
			return fmt.Errorf("failed to write image part: %w", err)
		}
		encoded = encoded[n:]
	}
	return nil
}
