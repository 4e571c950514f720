package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/nurture/pkg/config"
	"github.com/dukex/nurture/pkg/services"
)

// SeedWorkflows creates the workflows of the YAML file at path that do not exist yet.
// A workflow exists when one with the same scope and name is stored. It returns how many
// workflows were created.
func SeedWorkflows(ctx context.Context, logger *slog.Logger, service *services.Workflow, path string) (int, error) {
	if path == "" {
		return 0, nil
	}

	seeds, err := config.LoadWorkflows(path)
	if err != nil {
		return 0, err
	}

	existing, err := service.List(ctx)
	if err != nil {
		return 0, err
	}

	stored := make(map[string]bool, len(existing))
	for _, workflow := range existing {
		stored[workflow.Scope+"/"+workflow.Name] = true
	}

	created := 0

	for _, seed := range seeds {
		key := seed.Scope + "/" + seed.Name
		if stored[key] {
			logger.DebugContext(ctx, "seed workflow already exists", "scope", seed.Scope, "name", seed.Name)

			continue
		}

		workflow, err := service.Create(ctx, seed)
		if err != nil {
			return created, fmt.Errorf("failed to seed workflow %q: %w", seed.Name, err)
		}

		stored[key] = true
		created++

		logger.InfoContext(ctx, "seeded workflow", "workflow_id", workflow.ID, "scope", workflow.Scope, "name", workflow.Name)
	}

	return created, nil
}
