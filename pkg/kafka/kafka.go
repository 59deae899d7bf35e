// Package kafka provides the Kafka helpers used by the alert subscription.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// MaxPollWait bounds how long a fetch waits for new data.
	MaxPollWait = 500 * time.Millisecond
	// CommitInterval is how often consumed offsets are committed.
	CommitInterval = time.Second
	// DialTimeout bounds a reachability probe against a single broker.
	DialTimeout = 10 * time.Second
	// IdleProbeInterval is how long a reader may see no messages before the
	// broker is probed for liveness.
	IdleProbeInterval = 30 * time.Second

	minBytes = 1
	maxBytes = 10e6
)

// ParseBrokers parses a comma-separated broker list, trimming whitespace and
// dropping empty entries. Order is preserved.
func ParseBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ValidateConsumerParams validates common consumer parameters.
func ValidateConsumerParams(brokers []string, topic, groupID string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if groupID == "" {
		return fmt.Errorf("groupID cannot be empty")
	}
	return nil
}

// NewReaderConfig creates the consumer-group reader configuration for a single
// broker. New groups start at the newest offset since stale alerts are not worth mailing.
func NewReaderConfig(broker, topic, groupID string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        []string{broker},
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		MaxWait:        MaxPollWait,
		CommitInterval: CommitInterval,
		StartOffset:    kafka.LastOffset,
	}
}

// LogReaderConfig logs the reader configuration values.
func LogReaderConfig(cfg kafka.ReaderConfig) {
	slog.Info("Kafka consumer configured",
		"brokers", strings.Join(cfg.Brokers, ","),
		"topic", cfg.Topic,
		"group_id", cfg.GroupID,
		"min_bytes", cfg.MinBytes,
		"max_bytes", cfg.MaxBytes,
		"max_wait", cfg.MaxWait.String(),
		"commit_interval", cfg.CommitInterval.String(),
	)
}

// Probe checks that broker accepts connections and answers a metadata request.
func Probe(ctx context.Context, broker string) error {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker %s: %w", broker, err)
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("failed to read metadata from kafka broker %s: %w", broker, err)
	}
	return nil
}

// HeaderMap flattens message headers into a map. Later duplicates win.
func HeaderMap(headers []kafka.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Key] = string(h.Value)
	}
	return m
}
