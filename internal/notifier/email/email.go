// Package email provides the email delivery channel.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"alert-mailer/internal/notification"
	"alert-mailer/internal/notifier/email/provider"
	"alert-mailer/internal/notifier/graphs"
	"alert-mailer/internal/notifier/payload"
	"alert-mailer/internal/notifier/validation"
)

// Transport sends a fully built email.
// *provider.Registry is the production implementation.
type Transport interface {
	Send(ctx context.Context, req *provider.EmailRequest) error
}

// GraphFetcher downloads graph images. Entries that could not be fetched are nil.
type GraphFetcher interface {
	FetchAll(ctx context.Context, alertID string, urls []string) []*graphs.Image
}

// Config holds the email channel settings.
type Config struct {
	From string
	// Host is the machine name written in the message footer and Message-ID.
	Host string
}

// Sender implements the email channel.
type Sender struct {
	cfg       Config
	transport Transport
	fetcher   GraphFetcher
	now       func() time.Time
}

// NewSender creates an email channel. A nil fetcher disables inline graphs.
func NewSender(cfg Config, transport Transport, fetcher GraphFetcher) *Sender {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	return &Sender{
		cfg:       cfg,
		transport: transport,
		fetcher:   fetcher,
		now:       time.Now,
	}
}

// Type returns the channel type this sender handles.
func (s *Sender) Type() string {
	return "email"
}

// Send renders the notification and emails it.
// The target should be a comma-separated list of email addresses.
func (s *Sender) Send(ctx context.Context, target string, n notification.Notification) error {
	if target == "" {
		return fmt.Errorf("email recipient is required")
	}
	recipients := validation.ParseRecipients(target)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid email recipients provided")
	}
	for _, recipient := range recipients {
		if !validation.IsValidEmail(recipient) {
			return fmt.Errorf("invalid email address format: %q", recipient)
		}
	}

	images := s.attachments(ctx, n)
	cids := make([]string, len(n.Alert.Graphs))
	var attached []provider.Attachment
	for i, img := range images {
		if img == nil {
			continue
		}
		cids[i] = img.ContentID
		attached = append(attached, *img)
	}

	now := s.now()
	emailPayload, err := payload.BuildEmailPayload(n, payload.EmailOptions{
		GraphCIDs:   cids,
		Host:        s.cfg.Host,
		GeneratedAt: now,
	})
	if err != nil {
		return err
	}

	messageID := uuid.NewString() + "@" + s.cfg.Host
	raw, err := buildMessage(s.cfg.From, recipients, messageID, emailPayload, attached, now)
	if err != nil {
		return fmt.Errorf("failed to build email message: %w", err)
	}

	req := &provider.EmailRequest{
		From:        s.cfg.From,
		To:          recipients,
		Subject:     emailPayload.Subject,
		Text:        emailPayload.Text,
		HTML:        emailPayload.HTML,
		Attachments: attached,
		Raw:         raw,
	}
	if err := s.transport.Send(ctx, req); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Info("Successfully sent email notification",
		"alert_id", n.AlertID(),
		"to", strings.Join(recipients, ", "),
		"subject", emailPayload.Subject,
		"graphs", len(attached),
		"tokens_remaining", n.TokensRemaining,
	)
	return nil
}

// attachments fetches the alert's graphs and assigns each a Content-ID.
// The result is parallel to Alert.Graphs; missing images are nil.
func (s *Sender) attachments(ctx context.Context, n notification.Notification) []*provider.Attachment {
	out := make([]*provider.Attachment, len(n.Alert.Graphs))
	if s.fetcher == nil || len(n.Alert.Graphs) == 0 {
		return out
	}

	for i, img := range s.fetcher.FetchAll(ctx, n.AlertID(), n.Alert.Graphs) {
		if img == nil || i >= len(out) {
			continue
		}
		out[i] = &provider.Attachment{
			Filename:    fmt.Sprintf("graph-%d%s", i+1, extension(img.ContentType)),
			ContentType: img.ContentType,
			ContentID:   uuid.NewString(),
			Data:        img.Data,
		}
	}
	return out
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	default:
		return ""
	}
}
