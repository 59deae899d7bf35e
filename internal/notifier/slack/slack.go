// Package slack provides Slack notification sending via Incoming Webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"alert-mailer/internal/notification"
	"alert-mailer/internal/notifier/payload"
	"alert-mailer/internal/notifier/validation"
)

// maskURL masks the secret part of a webhook URL for logging.
func maskURL(url string) string {
	if len(url) > 50 {
		return url[:30] + "..." + url[len(url)-10:]
	}
	return url
}

// Sender implements Slack notification sending via Incoming Webhooks.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a new Slack sender.
func NewSender() *Sender {
	return &Sender{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Type returns the channel type this sender handles.
func (s *Sender) Type() string {
	return "slack"
}

// Send posts a notification to a Slack Incoming Webhook.
// The target should be a Slack webhook URL.
func (s *Sender) Send(ctx context.Context, target string, n notification.Notification) error {
	if target == "" {
		return fmt.Errorf("slack webhook URL is required")
	}
	if !validation.IsValidURL(target) {
		return fmt.Errorf("invalid Slack webhook URL: %q (must be a valid HTTP/HTTPS URL, not a channel name)", target)
	}

	jsonData, err := json.Marshal(payload.BuildSlackPayload(n))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification to %s: %w", maskURL(target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	slog.Info("Successfully sent Slack notification",
		"alert_id", n.AlertID(),
		"webhook_url", maskURL(target),
	)
	return nil
}
