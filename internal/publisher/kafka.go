package publisher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"alert-mailer/internal/events"
	"alert-mailer/internal/retry"
	kafkautil "alert-mailer/pkg/kafka"
)

const writeTimeout = 10 * time.Second

// KafkaPublisher writes alerts with a kafka.Writer. Messages are keyed by a
// hash of the alert id.
type KafkaPublisher struct {
	writer   messageWriter
	topic    string
	retryCfg retry.Config
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Ensure KafkaPublisher implements Publisher
var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a synchronous, at-least-once producer for topic.
// The topic is created on the first broker if it does not exist yet.
func NewKafkaPublisher(ctx context.Context, brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	slog.Info("Initializing Kafka producer", "brokers", brokers, "topic", topic)
	ensureTopic(ctx, brokers[0], topic)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &KafkaPublisher{
		writer:   writer,
		topic:    topic,
		retryCfg: retry.Config{MaxRetries: 1, InitialBackoff: 2 * time.Second, MaxBackoff: 2 * time.Second, BackoffFactor: 1},
	}, nil
}

// Publish writes one alert. A write that fails because the topic is still
// being created is retried once.
func (p *KafkaPublisher) Publish(ctx context.Context, alert *events.Alert) error {
	body, headers, err := Encode(alert)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     partitionKey(alert.ID),
		Value:   body,
		Headers: kafkaHeaders(headers),
		Time:    time.Now(),
	}

	for attempt := 0; ; attempt++ {
		err = p.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !topicNotReady(err) || attempt >= p.retryCfg.MaxRetries {
			break
		}
		slog.Info("Topic not ready, retrying after delay",
			"alert_id", alert.ID,
			"topic", p.topic,
			"attempt", attempt+1,
		)
		if !retry.Sleep(ctx, p.retryCfg.InitialBackoff) {
			return ctx.Err()
		}
	}

	slog.Error("Failed to write message to Kafka",
		"alert_id", alert.ID,
		"topic", p.topic,
		"error", err,
	)
	return fmt.Errorf("failed to write message to Kafka: %w", err)
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	return p.writer.Close()
}

func topicNotReady(err error) bool {
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return true
	}
	return strings.Contains(err.Error(), "Unknown Topic Or Partition")
}

// partitionKey keeps every message for one alert on the same partition.
func partitionKey(alertID string) []byte {
	hash := sha256.Sum256([]byte(alertID))
	return hash[:16]
}

func kafkaHeaders(headers map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers))
	for _, k := range sortedKeys(headers) {
		out = append(out, kafka.Header{Key: k, Value: []byte(headers[k])})
	}
	return out
}

// ensureTopic creates topic if the broker does not know it. Best effort: a
// failure is logged and the first write retries instead.
func ensureTopic(ctx context.Context, broker, topic string) {
	dialCtx, cancel := context.WithTimeout(ctx, kafkautil.DialTimeout)
	defer cancel()

	conn, err := kafka.DialContext(dialCtx, "tcp", broker)
	if err != nil {
		slog.Warn("Could not connect to Kafka to check topic",
			"broker", broker,
			"topic", topic,
			"error", err,
		)
		return
	}
	defer conn.Close()

	if partitions, err := conn.ReadPartitions(topic); err == nil && len(partitions) > 0 {
		slog.Debug("Topic already exists", "topic", topic, "partitions", len(partitions))
		return
	}

	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		slog.Warn("Could not create topic", "topic", topic, "error", err)
		return
	}
	slog.Info("Created topic", "topic", topic)
}
