// Package config provides configuration parsing and validation for alert-mailer.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"alert-mailer/internal/notifier/validation"
	"alert-mailer/internal/report"
	kafkautil "alert-mailer/pkg/kafka"
)

// Supported values for the enumerated settings.
const (
	BusKafka = "kafka"
	BusNATS  = "nats"

	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderResend = "resend"
)

// Config holds all configuration parameters for alert-mailer.
type Config struct {
	ConfigFile string

	Bus             string
	Brokers         string
	Topic           string
	ConsumerGroupID string

	BucketCapacity int
	RefillInterval time.Duration
	Workers        int
	QueueSize      int
	ShutdownGrace  time.Duration

	LogFile  string
	LogLevel string

	MailFrom      string
	MailTo        string
	EmailProvider string
	EmailFallback string
	EmailMaxRate  int
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	AWSRegion     string
	ResendAPIKey  string
	GraphTimeout  time.Duration

	SlackWebhookURL string
	WebhookURL      string

	PostgresDSN     string
	RedisAddr       string
	MetricsInterval time.Duration
	SummarySchedule string
}

// ConfigurationError reports an unusable configuration. It is the only error
// that stops the process.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func invalid(key, format string, args ...any) error {
	return &ConfigurationError{Key: key, Err: fmt.Errorf(format, args...)}
}

// BrokerList returns the configured brokers in failover order.
func (c *Config) BrokerList() []string {
	return kafkautil.ParseBrokers(c.Brokers)
}

// Recipients returns the parsed mail-to list.
func (c *Config) Recipients() []string {
	return validation.ParseRecipients(c.MailTo)
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns a ConfigurationError naming the first offending key.
func (c *Config) Validate() error {
	switch c.Bus {
	case "":
		return invalid("bus", "bus cannot be empty")
	case BusKafka, BusNATS:
	default:
		return invalid("bus", "bus must be %q or %q, got %q", BusKafka, BusNATS, c.Bus)
	}
	if len(c.BrokerList()) == 0 {
		return invalid("brokers", "brokers cannot be empty")
	}
	for _, broker := range c.BrokerList() {
		if err := validateBroker(c.Bus, broker); err != nil {
			return &ConfigurationError{Key: "brokers", Err: err}
		}
	}
	if c.Topic == "" {
		return invalid("topic", "topic cannot be empty")
	}
	if c.Bus == BusKafka && c.ConsumerGroupID == "" {
		return invalid("consumer-group-id", "consumer-group-id cannot be empty")
	}

	if c.BucketCapacity <= 0 {
		return invalid("bucket-capacity", "bucket-capacity must be positive")
	}
	if c.RefillInterval <= 0 {
		return invalid("refill-interval", "refill-interval must be positive")
	}
	if c.Workers <= 0 {
		return invalid("workers", "workers must be positive")
	}
	if c.QueueSize <= 0 {
		return invalid("queue-size", "queue-size must be positive")
	}
	if c.ShutdownGrace < 0 {
		return invalid("shutdown-grace", "shutdown-grace cannot be negative")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log-level", "log-level must be one of debug, info, warn or error, got %q", c.LogLevel)
	}

	if c.MailTo == "" && c.SlackWebhookURL == "" && c.WebhookURL == "" {
		return invalid("mail-to", "mail-to, slack-webhook-url and webhook-url cannot all be empty")
	}
	if c.MailTo != "" {
		if err := c.validateEmail(); err != nil {
			return err
		}
	}
	if c.SummarySchedule != "" {
		if c.PostgresDSN == "" {
			return invalid("summary-schedule", "summary-schedule requires postgres-dsn")
		}
		if _, err := report.ParseSchedule(c.SummarySchedule); err != nil {
			return &ConfigurationError{Key: "summary-schedule", Err: err}
		}
	}
	if c.SlackWebhookURL != "" && !validation.IsValidURL(c.SlackWebhookURL) {
		return invalid("slack-webhook-url", "slack-webhook-url is not a valid http(s) URL")
	}
	if c.WebhookURL != "" && !validation.IsValidURL(c.WebhookURL) {
		return invalid("webhook-url", "webhook-url is not a valid http(s) URL")
	}
	return nil
}

// validateBroker requires host:port. NATS entries may also carry a scheme,
// as in nats://host:port.
func validateBroker(bus, broker string) error {
	hostPort := broker
	if strings.Contains(broker, "://") {
		if bus != BusNATS {
			return fmt.Errorf("broker %q must be host:port", broker)
		}
		u, err := url.Parse(broker)
		if err != nil {
			return fmt.Errorf("broker %q is not a valid URL: %w", broker, err)
		}
		hostPort = u.Host
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return fmt.Errorf("broker %q must be host:port: %w", broker, err)
	}
	if host == "" {
		return fmt.Errorf("broker %q has no host", broker)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("broker %q has invalid port %q", broker, port)
	}
	return nil
}

func (c *Config) validateEmail() error {
	if c.MailFrom == "" {
		return invalid("mail-from", "mail-from cannot be empty")
	}
	if !validation.IsValidEmail(c.MailFrom) {
		return invalid("mail-from", "mail-from %q is not a valid address", c.MailFrom)
	}
	for _, addr := range c.Recipients() {
		if !validation.IsValidEmail(addr) {
			return invalid("mail-to", "mail-to contains invalid address %q", addr)
		}
	}

	if err := c.validateProvider("email-provider", c.EmailProvider); err != nil {
		return err
	}
	if c.EmailFallback != "" {
		if c.EmailFallback == c.EmailProvider {
			return invalid("email-fallback", "email-fallback must differ from email-provider")
		}
		if err := c.validateProvider("email-fallback", c.EmailFallback); err != nil {
			return err
		}
	}
	if c.EmailMaxRate < 0 {
		return invalid("email-max-rate", "email-max-rate cannot be negative")
	}
	return nil
}

func (c *Config) validateProvider(key, name string) error {
	switch name {
	case ProviderSMTP:
		if c.SMTPHost == "" {
			return invalid("smtp-host", "smtp-host cannot be empty when %s is smtp", key)
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			return invalid("smtp-port", "smtp-port %d is out of range", c.SMTPPort)
		}
	case ProviderSES:
		if c.AWSRegion == "" {
			return invalid("aws-region", "aws-region cannot be empty when %s is ses", key)
		}
	case ProviderResend:
		if c.ResendAPIKey == "" {
			return invalid("resend-api-key", "resend-api-key cannot be empty when %s is resend", key)
		}
	case "":
		return invalid(key, "%s cannot be empty", key)
	default:
		return invalid(key, "%s must be smtp, ses or resend, got %q", key, name)
	}
	return nil
}
