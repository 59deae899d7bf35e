package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

// SMTPProvider implements email sending over SMTP.
// Port 465 uses implicit TLS; any other port upgrades with STARTTLS when the
// server advertises it.
type SMTPProvider struct {
	cfg         SMTPConfig
	dialTimeout time.Duration
}

// NewSMTPProvider creates a new SMTP email provider.
func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, dialTimeout: 30 * time.Second}
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// IsConfigured returns true if an SMTP host and port are set.
func (p *SMTPProvider) IsConfigured() bool {
	return p.cfg.Host != "" && p.cfg.Port > 0
}

// envelopeFrom returns the MAIL FROM address. Gmail requires it to match the
// authenticated user.
func (p *SMTPProvider) envelopeFrom(from string) string {
	if strings.Contains(p.cfg.Host, "gmail.com") && p.cfg.User != "" && !strings.EqualFold(from, p.cfg.User) {
		slog.Info("Gmail: Using authenticated user as FROM address",
			"authenticated_user", p.cfg.User,
			"configured_from", from,
		)
		return p.cfg.User
	}
	return from
}

// Send delivers req.Raw to the SMTP server.
func (p *SMTPProvider) Send(ctx context.Context, req *EmailRequest) error {
	if !p.IsConfigured() {
		return fmt.Errorf("SMTP provider not configured")
	}
	if len(req.To) == 0 {
		return fmt.Errorf("no recipients specified")
	}
	if len(req.Raw) == 0 {
		return fmt.Errorf("SMTP provider requires a raw message")
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	from := p.envelopeFrom(req.From)

	if err := p.send(ctx, addr, from, req.To, req.Raw); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		slog.Error("Failed to send email",
			"error", err,
			"smtp_server", addr,
			"to", strings.Join(req.To, ", "),
		)
		if strings.Contains(err.Error(), "connection refused") {
			return fmt.Errorf("failed to send email: %w (SMTP server at %s is not available)", err, addr)
		}
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Info("Email sent via SMTP",
		"from", from,
		"to", strings.Join(req.To, ", "),
		"subject", req.Subject,
		"smtp_server", addr,
	)
	return nil
}

func (p *SMTPProvider) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: p.dialTimeout}
	if p.cfg.Port == 465 {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: p.cfg.Host},
		}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server with TLS: %w", err)
		}
		return conn, nil
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	return conn, nil
}

func (p *SMTPProvider) send(ctx context.Context, addr, from string, recipients []string, msg []byte) error {
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	// A server that stops answering mid-session only notices cancellation
	// through the connection being closed.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if p.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: p.cfg.Host}); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if p.cfg.User != "" && p.cfg.Password != "" {
		slog.Debug("Authenticating with SMTP server", "user", p.cfg.User, "host", p.cfg.Host)
		auth := smtp.PlainAuth("", p.cfg.User, p.cfg.Password, p.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender %s: %w", from, err)
	}
	for _, recipient := range recipients {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := client.Quit(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("Error during SMTP QUIT", "error", err)
	}
	return nil
}
