package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/abtest"
	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/idempotency"
	"github.com/dukex/nurture/pkg/otelhelper"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/protocol"
	"github.com/dukex/nurture/pkg/providers/email"
	"github.com/dukex/nurture/pkg/providers/notify"
	"github.com/dukex/nurture/pkg/providers/webhook"
	"go.opentelemetry.io/otel/trace"
)

// ExecutorConfig gathers everything needed to build an engine.
type ExecutorConfig struct {
	Engine            engine.Config
	MarkerStoreURL    string
	WebhookTimeout    time.Duration
	EmailRelayURL     string
	SlackWebhookURL   string
	DiscordWebhookURL string
}

// NewMarkerStore returns the Redis marker store when url is a redis:// URL and the
// persistence marker repository otherwise. The returned func releases the store.
func NewMarkerStore(ctx context.Context, url string, store persistence.Persistence, logger *slog.Logger) (idempotency.Store, func(), error) {
	if !idempotency.IsRedisURL(url) {
		return store.MarkerRepository(), func() {}, nil
	}

	redisStore, err := idempotency.NewRedisStoreFromURL(url)
	if err != nil {
		return nil, nil, err
	}

	if err := redisStore.Ping(ctx); err != nil {
		_ = redisStore.Close()

		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.InfoContext(ctx, "using redis marker store")

	return redisStore, func() {
		if err := redisStore.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close marker store", "error", err)
		}
	}, nil
}

// NewTracer returns an OTLP tracer when enabled and a no-op tracer otherwise.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, enabled bool, serviceName string) (trace.Tracer, otelhelper.Shutdown, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}

// NewEmailSender posts to the relay when one is configured and only logs messages otherwise.
// nolint:ireturn
func NewEmailSender(relayURL string, client protocol.WebhookClient, logger *slog.Logger) protocol.EmailSender {
	if relayURL == "" {
		logger.Warn("no email relay configured, emails are logged only")

		return email.NewLogSender(logger)
	}

	return email.NewRelaySender(relayURL, client, logger)
}

// NewEngine wires the executor with the outbound providers described by config.
func NewEngine(
	store persistence.Persistence,
	markers idempotency.Store,
	sink protocol.EventSink,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	config ExecutorConfig,
	logger *slog.Logger,
) *engine.Engine {
	client := webhook.NewClient(config.WebhookTimeout, logger)
	sender := NewEmailSender(config.EmailRelayURL, client, logger)
	notifier := notify.NewNotifier(notify.Config{
		SlackWebhookURL:   config.SlackWebhookURL,
		DiscordWebhookURL: config.DiscordWebhookURL,
	}, sender, client, logger)

	contacts := store.ContactRepository()

	return engine.New(engine.Dependencies{
		Workflows:  store.WorkflowRepository(),
		Executions: store.ExecutionRepository(),
		Contacts:   contacts,
		Commerce:   contacts,
		Emails:     contacts,
		ABTests:    abtest.NewManager(store.ABTestRepository(), logger),
		Markers:    markers,
		Email:      sender,
		Webhook:    client,
		Notifier:   notifier,
		Sink:       sink,
		Publisher:  publisher,
		Tracer:     tracer,
	}, config.Engine, logger)
}
