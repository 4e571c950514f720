package main

import (
	"context"
	"os"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/services"
	"github.com/dukex/nurture/pkg/trigger"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort = 9091
	serviceName = "nurture-api"
)

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "workflows-file",
			Usage:   "YAML file of workflows created at startup when missing",
			Sources: cli.EnvVars("WORKFLOWS_FILE"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.ExecutorFlags()...)

	cmd := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Manage workflows, enrollments and A/B tests and receive business events",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action:                run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing Nurture API")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	busConfig := cmd.EventBusConfigFrom(command, serviceName)

	eventBus, err := cmd.NewEventBus(busConfig, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	tracer, shutdown, err := cmd.NewTracer(ctx, command.Bool("otel-enabled"), serviceName)
	if err != nil {
		return err
	}

	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	executorConfig := cmd.ExecutorConfigFrom(command)

	markers, closeMarkers, err := cmd.NewMarkerStore(ctx, executorConfig.MarkerStoreURL, persistence, logger)
	if err != nil {
		return err
	}
	defer closeMarkers()

	dispatcher := trigger.NewDispatcher(persistence, eventBus, logger)
	stepper := cmd.NewEngine(persistence, markers, dispatcher, eventBus, tracer, executorConfig, logger)

	// Without a distributed bus nobody else would consume queued events.
	var queue eventbus.EventPublisher
	if busConfig.IsDistributed() {
		queue = eventBus
	}

	seeded, err := cmd.SeedWorkflows(ctx, logger, services.NewWorkflow(persistence), command.String("workflows-file"))
	if err != nil {
		return err
	}

	if seeded > 0 {
		logger.InfoContext(ctx, "workflows seeded", "count", seeded)
	}

	api := NewAPI(logger, persistence, dispatcher, stepper, queue)

	if err := api.Start(command.Int("port")); err != nil {
		logger.ErrorContext(ctx, "Failed to start API server", "error", err)

		return err
	}

	return nil
}
