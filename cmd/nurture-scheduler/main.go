package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/scheduler"
	"github.com/dukex/nurture/pkg/trigger"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "nurture-scheduler"

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "scheduler-id",
			Aliases: []string{"id"},
			Usage:   "Custom scheduler ID (auto-generated if not provided)",
			Sources: cli.EnvVars("SCHEDULER_ID"),
		},
		&cli.DurationFlag{
			Name:    "tick-interval",
			Usage:   "How often due executions are polled",
			Value:   scheduler.DefaultTickInterval,
			Sources: cli.EnvVars("TICK_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Maximum executions claimed per tick",
			Value:   scheduler.DefaultBatchSize,
			Sources: cli.EnvVars("BATCH_SIZE"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Executions stepped in parallel",
			Value:   scheduler.DefaultConcurrency,
			Sources: cli.EnvVars("CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:    "lease",
			Usage:   "How long a claimed execution stays hidden from other schedulers",
			Value:   scheduler.DefaultLease,
			Sources: cli.EnvVars("LEASE"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.ExecutorFlags()...)

	cmd := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Step due workflow executions",
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

	schedulerID := command.String("scheduler-id")
	if schedulerID == "" {
		schedulerID = "scheduler-" + uuid.New().String()[:8]
	}

	logger := log.WithModule(serviceName).With("scheduler_id", schedulerID)

	logger.InfoContext(ctx, "Initializing Nurture Scheduler")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(cmd.EventBusConfigFrom(command, serviceName), logger)
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

	// fire_event actions raised by workflows enroll through the same dispatcher rules.
	dispatcher := trigger.NewDispatcher(persistence, eventBus, logger)
	stepper := cmd.NewEngine(persistence, markers, dispatcher, eventBus, tracer, executorConfig, logger)

	s := scheduler.New(persistence.ExecutionRepository(), stepper, scheduler.Config{
		TickInterval: command.Duration("tick-interval"),
		BatchSize:    command.Int("batch-size"),
		Concurrency:  command.Int("concurrency"),
		Lease:        command.Duration("lease"),
	}, logger)

	return s.Run(ctx)
}
