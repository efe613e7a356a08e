package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/persistence/file"
	"github.com/brandkit/conveyor/pkg/persistence/postgresql"
)

// NewPersistence dispatches on the database URL scheme. "postgresql://" gets
// the SQL store with migrations applied; anything else is treated as a file
// path for the JSON store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql", "postgres":
		persist, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize postgresql persistence: %w", err))
		}

		return persist
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
