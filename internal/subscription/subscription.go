// Package subscription keeps a live subscription to the alert topic on a
// message bus, failing over between brokers and reconnecting with backoff.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"alert-mailer/internal/events"
	"alert-mailer/internal/metrics"
	"alert-mailer/internal/retry"
)

// Message is a raw message received from the bus.
type Message struct {
	Body    []byte
	Headers map[string]string
}

// Stream yields messages for one subscribed topic.
type Stream interface {
	// Receive blocks until a message arrives, ctx is done, or the stream fails.
	Receive(ctx context.Context) (Message, error)
	Close() error
}

// Conn is an open connection to one broker.
type Conn interface {
	Subscribe(ctx context.Context, topic string) (Stream, error)
	Close() error
}

// Transport opens connections to brokers of a particular bus.
type Transport interface {
	Name() string
	Dial(ctx context.Context, broker string) (Conn, error)
}

// State is the lifecycle state of a Subscription.
type State int

const (
	// Disconnected means no broker connection is held.
	Disconnected State = iota
	// Connecting means a connection is being established, or is held but
	// the topic is not subscribed yet.
	Connecting
	// Subscribed means messages are flowing.
	Subscribed
	// Closed is terminal.
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned when subscribing without a broker connection.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned once Disconnect has been called.
	ErrClosed = errors.New("subscription closed")
)

// ConnectionError reports that no broker accepted a connection.
type ConnectionError struct {
	Brokers []string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to any broker [%s]: %v", strings.Join(e.Brokers, ", "), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SubscriptionError reports that the topic could not be subscribed.
type SubscriptionError struct {
	Topic string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("failed to subscribe to %s: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// Filter reports whether a message should be delivered.
type Filter func(Message) bool

// MessageHandler processes one delivered message.
type MessageHandler func(ctx context.Context, msg Message)

// ErrorHandler is told about receive failures and handler panics.
type ErrorHandler func(err error)

type registration struct {
	topic     string
	filter    Filter
	onMessage MessageHandler
	onError   ErrorHandler
}

// Subscription owns the connection to the bus. Connect and Subscribe can be
// driven by hand; Run supervises both and reconnects until Disconnect.
type Subscription struct {
	transport Transport
	brokers   []string
	backoff   retry.Config
	metrics   metrics.Recorder

	mu      sync.Mutex
	state   State
	broker  string
	conn    Conn
	stream  Stream
	reg     *registration
	running bool

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a disconnected subscription over brokers, tried in order.
// A nil recorder disables metrics.
func New(transport Transport, brokers []string, backoff retry.Config, recorder metrics.Recorder) *Subscription {
	if recorder == nil {
		recorder = metrics.NewNoOp()
	}
	return &Subscription{
		transport: transport,
		brokers:   append([]string(nil), brokers...),
		backoff:   backoff,
		metrics:   recorder,
		state:     Disconnected,
		closed:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Broker returns the broker currently connected to, or "".
func (s *Subscription) Broker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broker
}

// Connect dials the brokers in order and keeps the first connection that
// succeeds. It returns a ConnectionError wrapping every per-broker failure
// when none does.
func (s *Subscription) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return &ConnectionError{Brokers: s.brokers, Err: ErrClosed}
	}
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.mu.Unlock()

	var errs []error
	for _, broker := range s.brokers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		slog.Info("Connecting to broker", "bus", s.transport.Name(), "broker", broker)
		conn, err := s.transport.Dial(ctx, broker)
		if err != nil {
			slog.Warn("Broker unreachable", "bus", s.transport.Name(), "broker", broker, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}

		s.mu.Lock()
		if s.state == Closed {
			s.mu.Unlock()
			conn.Close()
			return &ConnectionError{Brokers: s.brokers, Err: ErrClosed}
		}
		s.conn = conn
		s.broker = broker
		s.mu.Unlock()

		slog.Info("Connected to broker", "bus", s.transport.Name(), "broker", broker)
		return nil
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no brokers configured"))
	}

	s.mu.Lock()
	if s.state != Closed {
		s.state = Disconnected
	}
	s.mu.Unlock()
	return &ConnectionError{Brokers: s.brokers, Err: errors.Join(errs...)}
}

// Subscribe registers interest in topic on the current connection. Messages
// that pass filter (nil passes everything) go to onMessage. It returns a
// SubscriptionError when there is no connection.
func (s *Subscription) Subscribe(ctx context.Context, topic string, filter Filter, onMessage MessageHandler, onError ErrorHandler) error {
	if onMessage == nil {
		return &SubscriptionError{Topic: topic, Err: errors.New("message handler is required")}
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return &SubscriptionError{Topic: topic, Err: ErrClosed}
	}
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &SubscriptionError{Topic: topic, Err: ErrNotConnected}
	}

	stream, err := conn.Subscribe(ctx, topic)
	if err != nil {
		return &SubscriptionError{Topic: topic, Err: err}
	}

	s.mu.Lock()
	if s.state == Closed || s.conn != conn {
		s.mu.Unlock()
		stream.Close()
		return &SubscriptionError{Topic: topic, Err: ErrClosed}
	}
	if s.stream != nil {
		s.stream.Close()
	}
	s.stream = stream
	s.reg = &registration{topic: topic, filter: filter, onMessage: onMessage, onError: onError}
	s.state = Subscribed
	broker := s.broker
	s.mu.Unlock()

	slog.Info("Subscribed to topic", "bus", s.transport.Name(), "broker", broker, "topic", topic)
	return nil
}

// Run connects, subscribes and delivers messages until ctx is cancelled or
// Disconnect is called. Lost connections are re-established with capped
// exponential backoff, retried without limit. Run may be called once.
func (s *Subscription) Run(ctx context.Context, topic string, filter Filter, onMessage MessageHandler, onError ErrorHandler) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("subscription is already running")
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer s.Disconnect()

	backoff := retry.NewBackoff(s.backoff)
	for ctx.Err() == nil {
		if err := s.establish(ctx, topic, filter, onMessage, onError); err != nil {
			if ctx.Err() != nil {
				break
			}
			delay := backoff.Next()
			slog.Warn("Failed to establish subscription, retrying",
				"topic", topic,
				"attempt", backoff.Attempt(),
				"retry_in", delay,
				"error", err,
			)
			s.metrics.RecordReconnect()
			if !retry.Sleep(ctx, delay) {
				break
			}
			continue
		}
		backoff.Reset()

		err := s.receive(ctx)
		// Disconnect closes the stream before ctx is cancelled.
		if ctx.Err() != nil || s.isClosed() {
			break
		}

		broker := s.Broker()
		s.dropConnection()
		lost := &ConnectionError{Brokers: []string{broker}, Err: err}
		if onError != nil {
			onError(lost)
		}

		delay := backoff.Next()
		slog.Warn("Lost connection to broker, reconnecting",
			"broker", broker,
			"retry_in", delay,
			"error", err,
		)
		s.metrics.RecordReconnect()
		if !retry.Sleep(ctx, delay) {
			break
		}
	}

	slog.Info("Subscription loop stopped", "topic", topic)
	return nil
}

func (s *Subscription) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// establish connects if needed and subscribes. A failed subscribe drops the
// connection so the next attempt starts again from the first broker.
func (s *Subscription) establish(ctx context.Context, topic string, filter Filter, onMessage MessageHandler, onError ErrorHandler) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	if err := s.Subscribe(ctx, topic, filter, onMessage, onError); err != nil {
		s.dropConnection()
		return err
	}
	return nil
}

// receive delivers messages from the current stream until it fails.
func (s *Subscription) receive(ctx context.Context) error {
	s.mu.Lock()
	stream, reg := s.stream, s.reg
	s.mu.Unlock()
	if stream == nil || reg == nil {
		return ErrNotConnected
	}

	for {
		msg, err := stream.Receive(ctx)
		if err != nil {
			return err
		}
		s.metrics.RecordReceived()

		if reg.filter != nil && !reg.filter(msg) {
			s.metrics.RecordFiltered()
			slog.Debug("Filtered message", "topic", reg.topic)
			continue
		}
		s.deliver(ctx, reg, msg)
	}
}

// deliver calls the handler, turning a panic into a DecodeError so one bad
// message cannot stop the loop.
func (s *Subscription) deliver(ctx context.Context, reg *registration, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			err := &events.DecodeError{Reason: "handler panic", Err: fmt.Errorf("%v", r)}
			slog.Error("Message handler panicked", "topic", reg.topic, "error", err)
			if reg.onError != nil {
				reg.onError(err)
			}
		}
	}()
	reg.onMessage(ctx, msg)
}

// dropConnection releases the stream and connection and returns to
// Disconnected, unless the subscription is already closed.
func (s *Subscription) dropConnection() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	stream, conn := s.stream, s.conn
	s.stream, s.conn, s.broker = nil, nil, ""
	s.state = Disconnected
	s.mu.Unlock()

	release(stream, conn)
}

// Disconnect closes the subscription and releases the connection. A blocked
// receive is interrupted. Calling it more than once is a no-op.
func (s *Subscription) Disconnect() {
	s.closeOnce.Do(func() { close(s.closed) })

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	stream, conn := s.stream, s.conn
	s.stream, s.conn, s.broker = nil, nil, ""
	s.mu.Unlock()

	release(stream, conn)
	slog.Info("Subscription closed", "bus", s.transport.Name())
}

func release(stream Stream, conn Conn) {
	if stream != nil {
		if err := stream.Close(); err != nil {
			slog.Debug("Error closing stream", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			slog.Debug("Error closing connection", "error", err)
		}
	}
}
