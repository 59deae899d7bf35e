package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"alert-mailer/internal/events"
)

const progressLogInterval = 5 * time.Second

// Source produces alerts to publish.
type Source interface {
	Generate() *events.Alert
}

// RunConfig controls a publishing run.
type RunConfig struct {
	// Count is the number of alerts to publish.
	Count int
	// RPS paces the run. Zero or negative sends as fast as the publisher accepts.
	RPS float64
}

// Run publishes cfg.Count alerts from src and returns how many were sent.
// It stops at the first publish failure or when ctx is cancelled.
func Run(ctx context.Context, src Source, pub Publisher, cfg RunConfig) (int, error) {
	if cfg.Count <= 0 {
		return 0, fmt.Errorf("count must be greater than 0")
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	slog.Info("Starting publish run", "count", cfg.Count, "target_rps", cfg.RPS)

	start := time.Now()
	lastLog := start
	sent := 0
	for sent < cfg.Count {
		if err := limiter.Wait(ctx); err != nil {
			slog.Warn("Publish run cancelled", "sent", sent, "requested", cfg.Count)
			return sent, ctx.Err()
		}

		alert := src.Generate()
		if err := pub.Publish(ctx, alert); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			slog.Error("Failed to publish alert",
				"alert_id", alert.ID,
				"severity", alert.Severity,
				"sequence", sent+1,
				"error", err,
			)
			return sent, fmt.Errorf("failed to publish alert %d: %w", sent+1, err)
		}
		sent++

		if sent == 1 {
			slog.Info("Published first alert (sample)",
				"alert_id", alert.ID,
				"severity", alert.Severity,
				"source", alert.Source,
				"event", alert.Event,
				"repeat", alert.Repeat,
			)
		}
		if time.Since(lastLog) >= progressLogInterval {
			slog.Info("Progress update", "sent", sent, "elapsed", time.Since(start).Round(time.Millisecond))
			lastLog = time.Now()
		}
	}

	elapsed := time.Since(start)
	slog.Info("Publish run completed",
		"total_sent", sent,
		"duration", elapsed.Round(time.Millisecond),
		"actual_rps", fmt.Sprintf("%.1f", float64(sent)/elapsed.Seconds()),
	)
	return sent, nil
}
