// Package cmd holds the constructors shared by the nurture binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/persistence/file"
	"github.com/dukex/nurture/pkg/persistence/postgresql"
)

const defaultDataPath = "./data"

// NewPersistence selects the backend from the URL scheme: postgres:// and postgresql://
// use PostgreSQL, file:// (or a bare path) uses JSON files.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		return p, nil
	default:
		path := strings.TrimPrefix(databaseURL, "file://")
		if path == "" {
			path = defaultDataPath
		}

		logger.InfoContext(ctx, "using file persistence", "path", path)

		return file.NewPersistence(path), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "file"
	}
}
