package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"alert-mailer/internal/bucket"
	"alert-mailer/internal/config"
	"alert-mailer/internal/consumer"
	"alert-mailer/internal/report"
	"alert-mailer/internal/retry"
	"alert-mailer/internal/subscription"
	"alert-mailer/pkg/shared"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	closeLog, err := setupLogging(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()

	slog.Info("Starting alert-mailer",
		"bus", cfg.Bus,
		"brokers", cfg.BrokerList(),
		"topic", cfg.Topic,
		"bucket_capacity", cfg.BucketCapacity,
		"refill_interval", cfg.RefillInterval,
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"email_provider", cfg.EmailProvider,
		"postgres_dsn", shared.MaskDSN(cfg.PostgresDSN),
		"redis_addr", cfg.RedisAddr,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	recorder, stopMetrics := setupMetrics(ctx, cfg)
	db, closeDB := setupDeliveryLog(ctx, cfg)
	var deliveryLog consumer.DeliveryLog
	var counts report.Counter
	if db != nil {
		deliveryLog, counts = db, db
	}
	stopReporter := setupReporter(cfg, counts)
	watchConfig(ctx, os.Args[1:], cfg)

	notif, err := buildNotifier(ctx, cfg)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Initialized notifier", "channels", notif.Channels())

	tokens := bucket.New(cfg.BucketCapacity)
	refiller := bucket.NewRefiller(tokens, cfg.RefillInterval)
	dispatcher := consumer.NewDispatcher(notif, deliveryLog, recorder, consumer.DispatcherConfig{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	})
	alertConsumer := consumer.New(tokens, dispatcher, recorder)
	sub := subscription.New(buildTransport(cfg), cfg.BrokerList(), retry.ReconnectConfig(), recorder)

	dispatcher.Start()
	refiller.Start()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		handler := func(ctx context.Context, msg subscription.Message) {
			alertConsumer.HandleMessage(ctx, msg.Body)
		}
		if err := sub.Run(ctx, cfg.Topic, subscription.NotRepeat, handler, subscriptionErrorHandler(recorder)); err != nil {
			slog.Error("Subscription failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	// No new tokens, then no new alerts, then let admitted ones finish.
	refiller.Stop()
	sub.Disconnect()
	<-runDone
	dispatcher.Close(cfg.ShutdownGrace)
	stopReporter()
	stopMetrics()
	closeDB()

	slog.Info("alert-mailer stopped")
}
