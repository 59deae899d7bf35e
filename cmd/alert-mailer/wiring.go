package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"alert-mailer/internal/config"
	"alert-mailer/internal/database"
	"alert-mailer/internal/events"
	"alert-mailer/internal/metrics"
	"alert-mailer/internal/notifier"
	"alert-mailer/internal/notifier/email"
	"alert-mailer/internal/notifier/email/provider"
	"alert-mailer/internal/notifier/graphs"
	"alert-mailer/internal/notifier/slack"
	"alert-mailer/internal/notifier/strategy"
	"alert-mailer/internal/notifier/webhook"
	"alert-mailer/internal/report"
	"alert-mailer/internal/subscription"
	pkgmetrics "alert-mailer/pkg/metrics"
	"alert-mailer/pkg/shared"
)

// logLevel is shared by the default logger so a config reload can change it.
var logLevel = new(slog.LevelVar)

// setupLogging installs the default slog text logger writing to path, or to
// stdout when path is empty.
func setupLogging(path, level string) (func(), error) {
	var w io.Writer = os.Stdout
	closeFn := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		w = f
		closeFn = func() { f.Close() }
	}

	logLevel.Set(parseLevel(level))
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})))
	return closeFn, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupMetrics connects the Redis-backed collector. Without redis-addr, or
// when Redis is unreachable, metrics are discarded.
func setupMetrics(ctx context.Context, cfg *config.Config) (metrics.Recorder, func()) {
	if cfg.RedisAddr == "" {
		slog.Info("Metrics disabled, redis-addr not set")
		return metrics.NewNoOp(), func() {}
	}

	slog.Info("Connecting to Redis", "addr", cfg.RedisAddr)
	redisClient, err := shared.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Warn("Failed to connect to Redis, metrics disabled", "error", err)
		return metrics.NewNoOp(), func() {}
	}
	slog.Info("Successfully connected to Redis")

	collector := pkgmetrics.NewCollector(pkgmetrics.ServiceName, redisClient)
	collector.SetReportInterval(cfg.MetricsInterval)
	collector.Start(ctx)

	return metrics.NewCollectorAdapter(collector), func() {
		collector.Stop()
		redisClient.Close()
	}
}

// setupDeliveryLog opens the Postgres delivery log when postgres-dsn is set.
// The service runs without it (nil) if the database is unreachable.
func setupDeliveryLog(ctx context.Context, cfg *config.Config) (*database.DB, func()) {
	if cfg.PostgresDSN == "" {
		return nil, func() {}
	}

	slog.Info("Connecting to PostgreSQL database")
	db, err := database.NewDB(cfg.PostgresDSN)
	if err != nil {
		slog.Warn("Failed to connect to database, delivery log disabled", "error", err)
		return nil, func() {}
	}
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Warn("Failed to prepare delivery log, delivery log disabled", "error", err)
		db.Close()
		return nil, func() {}
	}
	return db, func() { db.Close() }
}

// setupReporter schedules delivery summaries. It needs the delivery log.
func setupReporter(cfg *config.Config, counts report.Counter) func() {
	if cfg.SummarySchedule == "" {
		return func() {}
	}
	if counts == nil {
		slog.Warn("Delivery summaries disabled, delivery log unavailable")
		return func() {}
	}

	reporter, err := report.New(counts, cfg.SummarySchedule)
	if err != nil {
		slog.Warn("Delivery summaries disabled", "error", err)
		return func() {}
	}
	reporter.Start()
	slog.Info("Scheduled delivery summaries", "schedule", cfg.SummarySchedule)
	return reporter.Stop
}

// watchConfig applies log-level changes from the config file while running.
// Every other setting is read once at startup.
func watchConfig(ctx context.Context, args []string, cfg *config.Config) {
	if cfg.ConfigFile == "" {
		return
	}
	go func() {
		err := config.Watch(ctx, args, cfg.ConfigFile, func(next *config.Config) {
			level := parseLevel(next.LogLevel)
			if level == logLevel.Level() {
				slog.Info("Config file changed, restart to apply settings other than log-level", "path", cfg.ConfigFile)
				return
			}
			slog.Info("Log level changed", "from", logLevel.Level().String(), "to", level.String())
			logLevel.Set(level)
		})
		if err != nil {
			slog.Warn("Config reload disabled", "error", err)
		}
	}()
}

// buildTransport returns the bus client selected by -bus.
func buildTransport(cfg *config.Config) subscription.Transport {
	if cfg.Bus == config.BusNATS {
		return subscription.NewNATSTransport(pkgmetrics.ServiceName + "@" + shared.Hostname())
	}
	return subscription.NewKafkaTransport(cfg.ConsumerGroupID)
}

// buildNotifier registers a channel for every configured destination.
func buildNotifier(ctx context.Context, cfg *config.Config) (*notifier.Multi, error) {
	channels := strategy.NewRegistry()
	routes := make(map[string][]string)

	if recipients := cfg.Recipients(); len(recipients) > 0 {
		providers, err := buildProviders(ctx, cfg)
		if err != nil {
			return nil, err
		}
		sender := email.NewSender(
			email.Config{From: cfg.MailFrom, Host: shared.Hostname()},
			providers,
			graphs.NewFetcher(cfg.GraphTimeout),
		)
		channels.Register(sender)
		// One message addressed to every recipient.
		routes[sender.Type()] = []string{strings.Join(recipients, ",")}
	}
	if cfg.SlackWebhookURL != "" {
		sender := slack.NewSender()
		channels.Register(sender)
		routes[sender.Type()] = []string{cfg.SlackWebhookURL}
	}
	if cfg.WebhookURL != "" {
		sender := webhook.NewSender()
		channels.Register(sender)
		routes[sender.Type()] = []string{cfg.WebhookURL}
	}

	return notifier.NewMulti(channels, routes), nil
}

func buildProviders(ctx context.Context, cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	for _, name := range []string{cfg.EmailProvider, cfg.EmailFallback} {
		switch name {
		case config.ProviderSMTP:
			registry.Register(provider.NewSMTPProvider(provider.SMTPConfig{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				User:     cfg.SMTPUser,
				Password: cfg.SMTPPassword,
			}))
		case config.ProviderSES:
			registry.Register(provider.NewSESProvider(ctx, cfg.AWSRegion))
		case config.ProviderResend:
			registry.Register(provider.NewResendProvider(cfg.ResendAPIKey))
		}
	}

	if err := registry.SetPrimary(cfg.EmailProvider); err != nil {
		return nil, &config.ConfigurationError{Key: "email-provider", Err: err}
	}
	if cfg.EmailFallback != "" {
		if err := registry.SetFallback(cfg.EmailFallback); err != nil {
			return nil, &config.ConfigurationError{Key: "email-fallback", Err: err}
		}
	}
	if _, err := registry.GetPrimary(); err != nil {
		return nil, &config.ConfigurationError{Key: "email-provider", Err: err}
	}
	registry.SetRateLimit(cfg.EmailMaxRate)
	return registry, nil
}

// subscriptionErrorHandler counts messages whose handling blew up. Connection
// losses are already logged by the subscription.
func subscriptionErrorHandler(m metrics.Recorder) subscription.ErrorHandler {
	return func(err error) {
		if events.IsDecodeError(err) {
			m.RecordDiscarded()
			return
		}
		slog.Debug("Subscription reported error", "error", err)
	}
}
