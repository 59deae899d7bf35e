package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	kafkautil "alert-mailer/pkg/kafka"
)

// messageReader is the part of *kafka.Reader the stream uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaTransport connects to Kafka brokers and reads the topic as a member
// of a consumer group.
type KafkaTransport struct {
	GroupID string
	// IdleProbe is how long a read may wait before the broker is probed.
	IdleProbe time.Duration

	probe     func(ctx context.Context, broker string) error
	newReader func(cfg kafka.ReaderConfig) messageReader
}

// NewKafkaTransport creates a Kafka transport for the consumer group.
func NewKafkaTransport(groupID string) *KafkaTransport {
	return &KafkaTransport{
		GroupID:   groupID,
		IdleProbe: kafkautil.IdleProbeInterval,
		probe:     kafkautil.Probe,
		newReader: func(cfg kafka.ReaderConfig) messageReader { return kafka.NewReader(cfg) },
	}
}

// Name returns the bus name used in logs.
func (t *KafkaTransport) Name() string {
	return "kafka"
}

// Dial probes the broker so an unreachable one fails over to the next.
func (t *KafkaTransport) Dial(ctx context.Context, broker string) (Conn, error) {
	if err := t.probe(ctx, broker); err != nil {
		return nil, err
	}
	return &kafkaConn{transport: t, broker: broker}, nil
}

type kafkaConn struct {
	transport *KafkaTransport
	broker    string

	mu      sync.Mutex
	readers []messageReader
}

func (c *kafkaConn) Subscribe(ctx context.Context, topic string) (Stream, error) {
	cfg := kafkautil.NewReaderConfig(c.broker, topic, c.transport.GroupID)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka reader config: %w", err)
	}
	kafkautil.LogReaderConfig(cfg)

	idle := c.transport.IdleProbe
	if idle <= 0 {
		idle = kafkautil.IdleProbeInterval
	}

	reader := c.transport.newReader(cfg)
	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()
	return &kafkaStream{
		reader: reader,
		broker: c.broker,
		idle:   idle,
		probe:  c.transport.probe,
	}, nil
}

// Close closes every reader opened on this connection.
func (c *kafkaConn) Close() error {
	c.mu.Lock()
	readers := c.readers
	c.readers = nil
	c.mu.Unlock()

	var firstErr error
	for _, r := range readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// kafkaStream reads one topic. The reader retries a lost broker internally
// and never reports it, so a read that stays idle for s.idle probes the
// broker and fails the stream when it is gone.
type kafkaStream struct {
	reader messageReader
	broker string
	idle   time.Duration
	probe  func(ctx context.Context, broker string) error
}

func (s *kafkaStream) Receive(ctx context.Context) (Message, error) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.idle)
		msg, err := s.reader.ReadMessage(readCtx)
		idle := errors.Is(readCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if err == nil {
			return Message{
				Body:    msg.Value,
				Headers: kafkautil.HeaderMap(msg.Headers),
			}, nil
		}
		if !idle {
			return Message{}, fmt.Errorf("failed to read message from Kafka: %w", err)
		}

		if err := s.probe(ctx, s.broker); err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			return Message{}, fmt.Errorf("kafka broker %s stopped responding: %w", s.broker, err)
		}
		slog.Debug("Kafka broker alive, no new messages", "broker", s.broker, "idle", s.idle)
	}
}

func (s *kafkaStream) Close() error {
	return s.reader.Close()
}
