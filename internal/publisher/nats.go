package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"alert-mailer/internal/events"
)

// NATSPublisher publishes alerts as NATS messages with headers.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// Ensure NATSPublisher implements Publisher
var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to the first reachable server in servers.
func NewNATSPublisher(servers []string, subject string) (*NATSPublisher, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("servers cannot be empty")
	}
	if subject == "" {
		return nil, fmt.Errorf("subject cannot be empty")
	}

	urls := make([]string, len(servers))
	for i, s := range servers {
		if !strings.Contains(s, "://") {
			s = "nats://" + s
		}
		urls[i] = s
	}

	conn, err := nats.Connect(strings.Join(urls, ","),
		nats.Name("alert-publish"),
		nats.Timeout(5*time.Second),
		nats.DontRandomize(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	slog.Info("Connected to NATS", "server", conn.ConnectedUrl(), "subject", subject)
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, alert *events.Alert) error {
	msg, err := natsMessage(p.subject, alert)
	if err != nil {
		return err
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", alert.ID, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	defer p.conn.Close()
	if err := p.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	return nil
}

func natsMessage(subject string, alert *events.Alert) (*nats.Msg, error) {
	body, headers, err := Encode(alert)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject)
	msg.Data = body
	for _, k := range sortedKeys(headers) {
		msg.Header.Set(k, headers[k])
	}
	return msg, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
