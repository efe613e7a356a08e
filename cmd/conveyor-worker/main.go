package main

import (
	"context"
	"os"

	"github.com/brandkit/conveyor/pkg/cmd"
	"github.com/brandkit/conveyor/pkg/log"
	"github.com/brandkit/conveyor/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPoolSize   = 4
	defaultQueueDepth = 1000
)

func main() {
	command := &cli.Command{
		Name:                  "conveyor-worker",
		Usage:                 "Run the dispatcher and worker pool to execute queued jobs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker addresses (kafka event bus only)",
				Value:   "",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "queue-url",
				Usage:   "Job queue URL (redis://... or empty for in-memory)",
				Value:   "",
				Sources: cli.EnvVars("QUEUE_URL"),
			},
			&cli.IntFlag{
				Name:    "max-queue-depth",
				Usage:   "Queue depth ceiling before enqueues are rejected",
				Value:   defaultQueueDepth,
				Sources: cli.EnvVars("MAX_QUEUE_DEPTH"),
			},
			&cli.IntFlag{
				Name:    "pool-size",
				Usage:   "Number of worker slots",
				Value:   defaultPoolSize,
				Sources: cli.EnvVars("WORKER_POOL_SIZE"),
			},
			&cli.StringFlag{
				Name:    "collaborator-endpoints",
				Usage:   "Comma-separated kind=url pairs for HTTP collaborators",
				Value:   "",
				Sources: cli.EnvVars("COLLABORATOR_ENDPOINTS"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Value:   false,
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("conveyor-worker")

			logger.InfoContext(ctx, "Initializing Conveyor Worker")

			persist := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persist.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "conveyor-worker", command.String("kafka-brokers"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			jobQueue := cmd.NewQueue(command.String("queue-url"), persist.Jobs(), command.Int("max-queue-depth"), logger)
			defer func() {
				err := jobQueue.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close queue", "error", err)
				}
			}()

			registry := cmd.NewCollaboratorRegistry(logger, cmd.ParseEndpoints(command.String("collaborator-endpoints")))

			manager := NewManager(
				persist,
				eventBus,
				jobQueue,
				registry,
				command.Int("pool-size"),
				logger,
			)

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "conveyor-worker")
				if err != nil {
					return err
				}

				manager.SetTracer(tracer)
			}

			return manager.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
