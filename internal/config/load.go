package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"alert-mailer/internal/bucket"
	"alert-mailer/pkg/shared"
)

// Load builds a Config from command-line args. Precedence, highest first:
// explicit flags, the YAML file named by -config, environment variables,
// built-in defaults. The result is not validated.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	fs := newFlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, &ConfigurationError{Key: "flags", Err: err}
	}

	if cfg.ConfigFile != "" {
		explicit := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

		if err := applyFile(fs, cfg.ConfigFile, explicit); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("alert-mailer", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigFile, "config", env("CONFIG_FILE", ""), "Optional YAML configuration file")

	fs.StringVar(&cfg.Bus, "bus", env("BUS", BusKafka), "Message bus: kafka or nats")
	fs.StringVar(&cfg.Brokers, "brokers", env("BROKERS", "localhost:9092"), "Broker addresses in failover order (comma-separated)")
	fs.StringVar(&cfg.Topic, "topic", env("TOPIC", "notify"), "Topic carrying alert notifications")
	fs.StringVar(&cfg.ConsumerGroupID, "consumer-group-id", env("CONSUMER_GROUP_ID", "alert-mailer"), "Kafka consumer group ID")

	fs.IntVar(&cfg.BucketCapacity, "bucket-capacity", envInt("BUCKET_CAPACITY", bucket.DefaultCapacity), "Maximum notifications in a burst")
	fs.DurationVar(&cfg.RefillInterval, "refill-interval", envDuration("REFILL_INTERVAL", bucket.DefaultRefillInterval), "Interval between token refills")
	fs.IntVar(&cfg.Workers, "workers", envInt("WORKERS", 4), "Number of delivery workers")
	fs.IntVar(&cfg.QueueSize, "queue-size", envInt("QUEUE_SIZE", 100), "Admitted notifications waiting for a worker")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", envDuration("SHUTDOWN_GRACE", 10*time.Second), "Time allowed for in-flight deliveries at shutdown")

	fs.StringVar(&cfg.LogFile, "log-file", env("LOG_FILE", ""), "Log file path (empty for stdout)")
	fs.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", "info"), "Log level: debug, info, warn or error")

	fs.StringVar(&cfg.MailFrom, "mail-from", env("MAIL_FROM", "alert-mailer@localhost"), "Sender address for alert emails")
	fs.StringVar(&cfg.MailTo, "mail-to", env("MAIL_TO", ""), "Alert email recipients (comma-separated)")
	fs.StringVar(&cfg.EmailProvider, "email-provider", env("EMAIL_PROVIDER", ProviderSMTP), "Primary email provider: smtp, ses or resend")
	fs.StringVar(&cfg.EmailFallback, "email-fallback", env("EMAIL_FALLBACK", ""), "Fallback email provider")
	fs.IntVar(&cfg.EmailMaxRate, "email-max-rate", envInt("EMAIL_MAX_RATE", 0), "Maximum emails per second (0 for unlimited)")
	fs.StringVar(&cfg.SMTPHost, "smtp-host", env("SMTP_HOST", "localhost"), "SMTP server host")
	fs.IntVar(&cfg.SMTPPort, "smtp-port", envInt("SMTP_PORT", 25), "SMTP server port")
	fs.StringVar(&cfg.SMTPUser, "smtp-user", env("SMTP_USER", ""), "SMTP username")
	fs.StringVar(&cfg.SMTPPassword, "smtp-password", env("SMTP_PASSWORD", ""), "SMTP password")
	fs.StringVar(&cfg.AWSRegion, "aws-region", env("AWS_REGION", "us-east-1"), "AWS region for SES")
	fs.StringVar(&cfg.ResendAPIKey, "resend-api-key", env("RESEND_API_KEY", ""), "Resend API key")
	fs.DurationVar(&cfg.GraphTimeout, "graph-timeout", envDuration("GRAPH_TIMEOUT", 10*time.Second), "Timeout for fetching one graph image")

	fs.StringVar(&cfg.SlackWebhookURL, "slack-webhook-url", env("SLACK_WEBHOOK_URL", ""), "Slack incoming webhook URL")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", env("WEBHOOK_URL", ""), "Generic webhook URL")

	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", env("POSTGRES_DSN", ""), "PostgreSQL connection string for the delivery log (empty to disable)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", env("REDIS_ADDR", ""), "Redis address for metrics (empty to disable)")
	fs.DurationVar(&cfg.MetricsInterval, "metrics-interval", envDuration("METRICS_INTERVAL", 30*time.Second), "Interval between metrics reports")
	fs.StringVar(&cfg.SummarySchedule, "summary-schedule", env("SUMMARY_SCHEDULE", ""), "Cron schedule for delivery summaries, e.g. @hourly (empty to disable)")

	return fs
}

// applyFile sets every key in the YAML file through its flag, skipping flags
// given on the command line. Keys are flag names.
func applyFile(fs *flag.FlagSet, path string, explicit map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigurationError{Key: "config", Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return &ConfigurationError{Key: "config", Err: fmt.Errorf("failed to parse config file %s: %w", path, err)}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == "config" {
			return invalid("config", "config file cannot set config")
		}
		if fs.Lookup(key) == nil {
			return invalid(key, "unknown key %q in config file %s", key, path)
		}
		if explicit[key] {
			continue
		}
		if err := fs.Set(key, yamlString(values[key])); err != nil {
			return invalid(key, "invalid value for %s in config file: %v", key, err)
		}
	}
	return nil
}

// yamlString renders a scalar or list the way it would be typed on the command line.
func yamlString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, yamlString(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}

func env(key, defaultValue string) string {
	return shared.GetEnvOrDefault(key, defaultValue)
}

// envInt falls back to the default when the variable is unset or not a number.
func envInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(env(key, "")); err == nil {
		return n
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(env(key, "")); err == nil {
		return d
	}
	return defaultValue
}
