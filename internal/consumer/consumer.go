package consumer

import (
	"context"
	"log/slog"

	"alert-mailer/internal/bucket"
	"alert-mailer/internal/events"
	"alert-mailer/internal/metrics"
	"alert-mailer/internal/notification"
)

// Outcome is what happened to one inbound message.
type Outcome int

const (
	// Admitted means a token was taken and a notification was submitted.
	Admitted Outcome = iota
	// Suppressed means the bucket was empty and the alert was dropped.
	Suppressed
	// Discarded means the message could not be decoded.
	Discarded
	// Filtered means the alert is marked as a repeat and was skipped.
	Filtered
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Suppressed:
		return "suppressed"
	case Discarded:
		return "discarded"
	case Filtered:
		return "filtered"
	default:
		return "unknown"
	}
}

// Consumer decides for each alert whether it becomes a notification.
type Consumer struct {
	bucket     *bucket.TokenBucket
	dispatcher Submitter
	metrics    metrics.Recorder
}

// New creates a consumer that takes tokens from b and submits admitted
// notifications to dispatcher. If m is nil, a no-op implementation is used.
func New(b *bucket.TokenBucket, dispatcher Submitter, m metrics.Recorder) *Consumer {
	if m == nil {
		m = metrics.NewNoOp()
	}
	return &Consumer{
		bucket:     b,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

// HandleMessage decodes body and applies the rate limit. Tokens are taken
// only for well-formed, non-repeat alerts and are never given back, even if
// delivery later fails.
func (c *Consumer) HandleMessage(ctx context.Context, body []byte) Outcome {
	alert, err := events.Decode(body)
	if err != nil {
		slog.Error("Discarding malformed alert",
			"bytes", len(body),
			"error", err,
		)
		c.metrics.RecordDiscarded()
		return Discarded
	}

	if alert.Repeat {
		slog.Debug("Skipping repeated alert", "alert_id", alert.ID)
		c.metrics.RecordFiltered()
		return Filtered
	}

	remaining, ok := c.bucket.Take()
	if !ok {
		slog.Info("Rate limiting alert",
			"alert_id", alert.ID,
			"severity", alert.Severity,
		)
		c.metrics.RecordSuppressed()
		c.metrics.SetTokensRemaining(0)
		return Suppressed
	}

	c.metrics.RecordAdmitted()
	c.metrics.SetTokensRemaining(remaining)

	n := notification.New(alert, remaining)
	slog.Debug("Admitted alert",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"tokens_remaining", remaining,
	)
	c.dispatcher.Submit(n)
	return Admitted
}
