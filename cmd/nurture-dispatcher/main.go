package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/trigger"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "nurture-dispatcher"

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "dispatcher-id",
			Aliases: []string{"id"},
			Usage:   "Custom dispatcher ID (auto-generated if not provided)",
			Sources: cli.EnvVars("DISPATCHER_ID"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.TriggerFlags()...)

	cmd := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Enroll contacts from business events, scheduled triggers and inactivity sweeps",
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

	dispatcherID := command.String("dispatcher-id")
	if dispatcherID == "" {
		dispatcherID = "dispatcher-" + uuid.New().String()[:8]
	}

	logger := log.WithModule(serviceName)

	logger.InfoContext(ctx, "Initializing Nurture Dispatcher", "dispatcher_id", dispatcherID)

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

	dispatcher := trigger.NewDispatcher(persistence, eventBus, logger)

	cron, err := trigger.NewCron(dispatcher, persistence, command.String("inactivity-sweep"), logger)
	if err != nil {
		return err
	}

	return NewDispatcherManager(dispatcherID, eventBus, dispatcher, cron, logger).Start(ctx)
}
