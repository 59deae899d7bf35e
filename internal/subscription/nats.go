package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSTransport connects to NATS servers. The client library's own
// reconnect logic is disabled so Subscription stays in charge of failover.
type NATSTransport struct {
	// ClientName identifies the connection on the server.
	ClientName     string
	ConnectTimeout time.Duration
}

// NewNATSTransport creates a NATS transport.
func NewNATSTransport(clientName string) *NATSTransport {
	return &NATSTransport{ClientName: clientName, ConnectTimeout: 5 * time.Second}
}

// Name returns the bus name used in logs.
func (t *NATSTransport) Name() string {
	return "nats"
}

// natsURL adds the nats:// scheme to a bare host:port.
func natsURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "nats://" + broker
}

// Dial connects to a single NATS server.
func (t *NATSTransport) Dial(ctx context.Context, broker string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := []nats.Option{
		nats.NoReconnect(),
		nats.Timeout(t.ConnectTimeout),
	}
	if t.ClientName != "" {
		opts = append(opts, nats.Name(t.ClientName))
	}

	nc, err := nats.Connect(natsURL(broker), opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &natsConn{nc: nc}, nil
}

type natsConn struct {
	nc *nats.Conn
}

func (c *natsConn) Subscribe(ctx context.Context, topic string) (Stream, error) {
	sub, err := c.nc.SubscribeSync(topic)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	return &natsStream{sub: sub}, nil
}

func (c *natsConn) Close() error {
	c.nc.Close()
	return nil
}

type natsStream struct {
	sub *nats.Subscription
}

func (s *natsStream) Receive(ctx context.Context) (Message, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("nats receive: %w", err)
	}
	return Message{Body: msg.Data, Headers: natsHeaders(msg.Header)}, nil
}

func (s *natsStream) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return err
	}
	return nil
}

func natsHeaders(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return m
}
