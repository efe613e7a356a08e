// Package main provides the cron-driven trigger emitter.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brandkit/conveyor/pkg/cmd"
	"github.com/brandkit/conveyor/pkg/ingress"
	"github.com/brandkit/conveyor/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const stopTimeout = 10 * time.Second

func main() {
	command := &cli.Command{
		Name:                  "conveyor-scheduler",
		Usage:                 "Emit workflow triggers on cron schedules",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "schedules-file",
				Usage:    "Path to a JSON file describing the schedules",
				Required: true,
				Sources:  cli.EnvVars("SCHEDULES_FILE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker addresses (kafka event bus only)",
				Value:   "",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
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

			logger := log.WithModule("conveyor-scheduler")

			logger.InfoContext(ctx, "Initializing Conveyor Scheduler")

			schedules, err := loadSchedules(command.String("schedules-file"))
			if err != nil {
				return err
			}

			eventBus := cmd.NewEventBus(command.String("event-bus"), "conveyor-scheduler", command.String("kafka-brokers"), logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			service := ingress.NewService(eventBus, nil, 0, logger)
			scheduler := ingress.NewScheduler(service, logger)

			for _, schedule := range schedules {
				err := scheduler.Add(schedule)
				if err != nil {
					return err
				}
			}

			scheduler.Start()

			logger.InfoContext(ctx, "Scheduler started", "schedules", len(schedules))

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			<-runCtx.Done()

			logger.InfoContext(ctx, "Shutting down scheduler")

			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()

			return scheduler.Stop(stopCtx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func loadSchedules(path string) ([]ingress.Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedules file: %w", err)
	}

	var schedules []ingress.Schedule

	err = json.Unmarshal(data, &schedules)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedules file: %w", err)
	}

	return schedules, nil
}
