package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/brandkit/conveyor/pkg/cmd"
	"github.com/brandkit/conveyor/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort       = 9090
	defaultQueueDepth = 1000
)

func main() {
	command := &cli.Command{
		Name:                  "conveyor-api",
		Usage:                 "HTTP surface for submitting triggers and inspecting workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
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
				Usage:   "Queue depth ceiling before new triggers are rejected",
				Value:   defaultQueueDepth,
				Sources: cli.EnvVars("MAX_QUEUE_DEPTH"),
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

			logger := log.WithModule("conveyor-api")

			logger.InfoContext(ctx, "Initializing Conveyor API")

			persist := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persist.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "conveyor-api", command.String("kafka-brokers"), logger)
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

			api := NewAPI(
				logger,
				persist,
				eventBus,
				jobQueue,
				command.Int("max-queue-depth"),
			)

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return api.Start(runCtx, command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
