package cmd

import (
	"time"

	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/retry"
	"github.com/dukex/nurture/pkg/trigger"
	"github.com/urfave/cli/v3"
)

// CommonFlags are accepted by every binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL for persistence (postgres://... or file://path)",
			Value:   "file://" + defaultDataPath,
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

// ExecutorFlags configure node execution: retries, hop budget and the outbound collaborators.
func ExecutorFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "marker-store-url",
			Usage:   "Idempotency marker store (empty uses the database, redis://... uses Redis)",
			Sources: cli.EnvVars("MARKER_STORE_URL"),
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Transient failures tolerated per execution before it fails",
			Value:   retry.DefaultMaxRetries,
			Sources: cli.EnvVars("MAX_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "retry-initial-backoff",
			Usage:   "Delay before the first retry",
			Value:   retry.DefaultInitialBackoff,
			Sources: cli.EnvVars("RETRY_INITIAL_BACKOFF"),
		},
		&cli.DurationFlag{
			Name:    "retry-max-backoff",
			Usage:   "Upper bound of the retry delay",
			Value:   retry.DefaultMaxBackoff,
			Sources: cli.EnvVars("RETRY_MAX_BACKOFF"),
		},
		&cli.IntFlag{
			Name:    "hop-budget",
			Usage:   "Nodes one step may traverse without suspending",
			Value:   engine.DefaultHopBudget,
			Sources: cli.EnvVars("HOP_BUDGET"),
		},
		&cli.DurationFlag{
			Name:    "webhook-timeout",
			Usage:   "Timeout of outbound webhook calls",
			Value:   10 * time.Second,
			Sources: cli.EnvVars("WEBHOOK_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "email-relay-url",
			Usage:   "HTTP endpoint of the email relay (empty logs emails instead of sending)",
			Sources: cli.EnvVars("EMAIL_RELAY_URL"),
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "Slack incoming webhook for owner notifications",
			Sources: cli.EnvVars("SLACK_WEBHOOK_URL"),
		},
		&cli.StringFlag{
			Name:    "discord-webhook-url",
			Usage:   "Discord webhook for owner notifications",
			Sources: cli.EnvVars("DISCORD_WEBHOOK_URL"),
		},
	}
}

// TriggerFlags configure the time-based triggers.
func TriggerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "inactivity-sweep",
			Usage:   "Cron schedule of the inactivity sweep",
			Value:   trigger.DefaultInactivitySweep,
			Sources: cli.EnvVars("INACTIVITY_SWEEP"),
		},
	}
}

// EventBusConfigFrom reads the event bus flags.
func EventBusConfigFrom(command *cli.Command, serviceName string) EventBusConfig {
	return EventBusConfig{
		Provider:    command.String("event-bus"),
		Brokers:     command.String("kafka-brokers"),
		ServiceName: serviceName,
		OTELEnabled: command.Bool("otel-enabled"),
	}
}

// ExecutorConfigFrom reads the executor flags.
func ExecutorConfigFrom(command *cli.Command) ExecutorConfig {
	policy := retry.DefaultPolicy()
	policy.MaxRetries = command.Int("max-retries")
	policy.InitialBackoff = command.Duration("retry-initial-backoff")
	policy.MaxBackoff = command.Duration("retry-max-backoff")

	return ExecutorConfig{
		Engine: engine.Config{
			HopBudget: command.Int("hop-budget"),
			Retry:     policy,
		},
		MarkerStoreURL:    command.String("marker-store-url"),
		WebhookTimeout:    command.Duration("webhook-timeout"),
		EmailRelayURL:     command.String("email-relay-url"),
		SlackWebhookURL:   command.String("slack-webhook-url"),
		DiscordWebhookURL: command.String("discord-webhook-url"),
	}
}
