// Package webhook provides webhook notification sending via HTTP POST.
package webhook

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

// Sender implements webhook notification sending via HTTP POST.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a new webhook sender.
func NewSender() *Sender {
	return &Sender{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Type returns the channel type this sender handles.
func (s *Sender) Type() string {
	return "webhook"
}

// Send posts the notification as JSON to the target URL.
func (s *Sender) Send(ctx context.Context, target string, n notification.Notification) error {
	if target == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !validation.IsValidURL(target) {
		return fmt.Errorf("invalid webhook URL: %q (must be a valid HTTP/HTTPS URL)", target)
	}

	jsonData, err := json.Marshal(payload.BuildWebhookPayload(n))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Id", n.AlertID())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	slog.Info("Successfully sent webhook notification",
		"alert_id", n.AlertID(),
		"webhook_url", target,
	)
	return nil
}
