// Package goal detects business-level completion of executions independent of graph position.
package goal

import (
	"context"
	"slices"

	"github.com/dukex/nurture/pkg/condition"
	"github.com/dukex/nurture/pkg/models"
)

// Met reports whether the goal holds for the snapshot. A nil goal is never met.
func Met(goal *models.GoalDefinition, snapshot *condition.Snapshot) (bool, error) {
	if goal == nil {
		return false, nil
	}

	return condition.Evaluate(&goal.Condition, snapshot)
}

// Prompts reports whether an event of the given type should trigger an early goal check.
func Prompts(goal *models.GoalDefinition, eventType models.EventType) bool {
	if goal == nil {
		return false
	}

	return len(goal.EventTypes) == 0 || slices.Contains(goal.EventTypes, eventType)
}

// Detector evaluates workflow goals against freshly loaded contact state.
type Detector struct {
	loader *condition.Loader
}

func NewDetector(loader *condition.Loader) *Detector {
	return &Detector{loader: loader}
}

// Check loads the execution's snapshot and evaluates the workflow goal.
// Workflows without a goal are skipped without touching the stores.
func (d *Detector) Check(ctx context.Context, workflow *models.Workflow, execution *models.Execution) (bool, error) {
	if workflow.Goal == nil {
		return false, nil
	}

	snapshot, err := d.loader.Load(ctx, workflow, execution)
	if err != nil {
		return false, err
	}

	return Met(workflow.Goal, snapshot)
}
