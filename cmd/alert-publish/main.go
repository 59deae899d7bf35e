// Command alert-publish sends synthetic alerts to the notify topic. It is
// used to exercise alert-mailer end to end without a real monitoring system.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"alert-mailer/internal/config"
	"alert-mailer/internal/generator"
	"alert-mailer/internal/publisher"
	kafkautil "alert-mailer/pkg/kafka"
	"alert-mailer/pkg/shared"
)

type options struct {
	bus     string
	brokers string
	topic   string
	count   int
	rps     float64
	mock    bool
	gen     generator.Config
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	slog.Info("Starting alert-publish",
		"bus", opts.bus,
		"brokers", opts.brokers,
		"topic", opts.topic,
		"count", opts.count,
		"rps", opts.rps,
		"seed", opts.gen.Seed,
		"repeat_ratio", opts.gen.RepeatRatio,
		"mock", opts.mock,
	)

	gen, err := generator.New(opts.gen)
	if err != nil {
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
		slog.Info("Received shutdown signal, stopping...")
		cancel()
	}()

	pub, err := newPublisher(ctx, opts)
	if err != nil {
		slog.Error("Failed to create publisher", "bus", opts.bus, "error", err)
		slog.Info("Tip: use -mock to log alerts without a broker")
		os.Exit(1)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			slog.Error("Failed to close publisher", "error", err)
		}
	}()

	if _, err := publisher.Run(ctx, gen, pub, publisher.RunConfig{Count: opts.count, RPS: opts.rps}); err != nil {
		slog.Error("Publishing failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("alert-publish", flag.ContinueOnError)

	fs.StringVar(&opts.bus, "bus", shared.GetEnvOrDefault("BUS", config.BusKafka), "Message bus: kafka or nats")
	fs.StringVar(&opts.brokers, "brokers", shared.GetEnvOrDefault("BROKERS", "localhost:9092"), "Broker addresses (comma-separated)")
	fs.StringVar(&opts.topic, "topic", shared.GetEnvOrDefault("TOPIC", "notify"), "Topic (or NATS subject) to publish to")
	fs.IntVar(&opts.count, "count", envInt("PUBLISH_COUNT", 10), "Number of alerts to send")
	fs.Float64Var(&opts.rps, "rps", envFloat("PUBLISH_RPS", 0), "Alerts per second (0 = as fast as possible)")
	fs.BoolVar(&opts.mock, "mock", false, "Log alerts instead of sending them")
	fs.Int64Var(&opts.gen.Seed, "seed", 0, "Random seed for deterministic generation (0 = random)")
	fs.StringVar(&opts.gen.SeverityDist, "severity-dist", generator.DefaultSeverityDist, "Severity distribution (format: SEVERITY:percent,...)")
	fs.StringVar(&opts.gen.SourceDist, "source-dist", generator.DefaultSourceDist, "Source distribution (format: source:percent,...)")
	fs.StringVar(&opts.gen.EventDist, "event-dist", generator.DefaultEventDist, "Event distribution (format: event:percent,...)")
	fs.Float64Var(&opts.gen.RepeatRatio, "repeat-ratio", 0.1, "Fraction of alerts marked as repeats (0-1)")
	fs.StringVar(&opts.gen.GraphURL, "graph-url", shared.GetEnvOrDefault("PUBLISH_GRAPH_URL", ""), "Graph image URL attached to each alert")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.bus != config.BusKafka && opts.bus != config.BusNATS {
		return nil, fmt.Errorf("bus must be %q or %q, got %q", config.BusKafka, config.BusNATS, opts.bus)
	}
	if opts.count <= 0 {
		return nil, fmt.Errorf("count must be greater than 0")
	}
	return opts, nil
}

func newPublisher(ctx context.Context, opts *options) (publisher.Publisher, error) {
	if opts.mock {
		return publisher.NewLogPublisher(opts.topic), nil
	}
	brokers := kafkautil.ParseBrokers(opts.brokers)
	if opts.bus == config.BusNATS {
		return publisher.NewNATSPublisher(brokers, opts.topic)
	}
	return publisher.NewKafkaPublisher(ctx, brokers, opts.topic)
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(shared.GetEnvOrDefault(key, "")); err == nil {
		return n
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(shared.GetEnvOrDefault(key, ""), 64); err == nil {
		return f
	}
	return def
}
