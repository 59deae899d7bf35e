// Package publisher writes alerts to the notify topic. It is the producing
// side of internal/subscription, used by the alert-publish tool.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"alert-mailer/internal/events"
	"alert-mailer/internal/subscription"
)

// ContentTypeHeader names the header carrying the body encoding.
const ContentTypeHeader = "content-type"

// Publisher publishes alerts.
type Publisher interface {
	Publish(ctx context.Context, alert *events.Alert) error
	Close() error
}

// Encode renders alert as the JSON body and headers subscribers expect.
// The repeat header mirrors the body so broker-side filters can skip repeats.
func Encode(alert *events.Alert) ([]byte, map[string]string, error) {
	if alert.ID == "" {
		return nil, nil, fmt.Errorf("alert id cannot be empty")
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal alert %s: %w", alert.ID, err)
	}
	headers := map[string]string{
		ContentTypeHeader:         "application/json",
		subscription.RepeatHeader: strconv.FormatBool(alert.Repeat),
		"severity":                alert.Severity,
	}
	return body, headers, nil
}

// LogPublisher logs alerts instead of sending them. Useful without a broker.
type LogPublisher struct {
	topic string
}

// Ensure LogPublisher implements Publisher
var _ Publisher = (*LogPublisher)(nil)

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(topic string) *LogPublisher {
	slog.Info("Using log publisher, alerts will not be sent", "topic", topic)
	return &LogPublisher{topic: topic}
}

func (p *LogPublisher) Publish(ctx context.Context, alert *events.Alert) error {
	body, headers, err := Encode(alert)
	if err != nil {
		return err
	}
	slog.Info("Mock publish",
		"topic", p.topic,
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"repeat", headers[subscription.RepeatHeader],
		"alert_json", string(body),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
