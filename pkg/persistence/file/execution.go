package file

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
)

const executionsDir = "executions"

// ExecutionRepository handles execution persistence using one JSON document per execution.
type ExecutionRepository struct {
	store *store
}

// Enroll inserts a new execution unless the contact is already active in the workflow.
func (er *ExecutionRepository) Enroll(_ context.Context, execution *models.Execution) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	if !execution.AllowMultiple {
		existing, err := er.loadWhere(func(e *models.Execution) bool {
			return e.WorkflowID == execution.WorkflowID &&
				e.ContactID == execution.ContactID &&
				!e.IsTerminal() && !e.AllowMultiple
		})
		if err != nil {
			return persistence.NewExecutionError("Enroll", execution, err)
		}

		if len(existing) > 0 {
			return persistence.NewExecutionError("Enroll", execution, persistence.ErrAlreadyEnrolled)
		}
	}

	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewExecutionError("Enroll", execution, err)
		}

		execution.ID = id.String()
	}

	now := time.Now().UTC()
	execution.CreatedAt = now
	execution.UpdatedAt = now
	execution.Version = 1

	if err := er.store.write(executionsDir, execution.ID, execution); err != nil {
		return persistence.NewExecutionError("Enroll", execution, err)
	}

	return nil
}

// GetByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	execution, err := er.load(id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", &models.Execution{ID: id}, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) load(id string) (*models.Execution, error) {
	var execution models.Execution

	found, err := er.store.read(executionsDir, id, &execution)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrExecutionNotFound
	}

	return &execution, nil
}

// Update writes the execution when the stored version matches, then bumps the version.
func (er *ExecutionRepository) Update(_ context.Context, execution *models.Execution) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	if err := er.compareAndWrite(execution); err != nil {
		return persistence.NewExecutionError("Update", execution, err)
	}

	return nil
}

func (er *ExecutionRepository) compareAndWrite(execution *models.Execution) error {
	stored, err := er.load(execution.ID)
	if err != nil {
		return err
	}

	if stored.Version != execution.Version {
		return persistence.ErrVersionConflict
	}

	next := *execution
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	if err := er.store.write(executionsDir, next.ID, &next); err != nil {
		return err
	}

	*execution = next

	return nil
}

// Due returns non-terminal executions scheduled at or before now, oldest first.
func (er *ExecutionRepository) Due(_ context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	due, err := er.loadWhere(func(e *models.Execution) bool {
		return e.IsDue(now)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(*due[j].ScheduledFor)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

// Claim leases the execution until leaseUntil so other dispatchers skip it.
func (er *ExecutionRepository) Claim(_ context.Context, execution *models.Execution, leaseUntil time.Time) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	claimed := *execution
	lease := leaseUntil.UTC()
	claimed.ScheduledFor = &lease
	claimed.LeasedUntil = &lease

	if err := er.compareAndWrite(&claimed); err != nil {
		return persistence.NewExecutionError("Claim", execution, err)
	}

	*execution = claimed

	return nil
}

// ListByWorkflow lists the executions of a workflow, newest first.
func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string, filter models.ExecutionFilter) ([]*models.Execution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	executions, err := er.loadWhere(func(e *models.Execution) bool {
		if e.WorkflowID != workflowID {
			return false
		}

		if len(filter.Status) > 0 && !slices.Contains(filter.Status, e.Status) {
			return false
		}

		return filter.NodeID == "" || e.CurrentNodeID == filter.NodeID
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if filter.Limit > 0 && len(executions) > filter.Limit {
		executions = executions[:filter.Limit]
	}

	return executions, nil
}

// ListActiveByContact lists the non-terminal executions of a contact.
func (er *ExecutionRepository) ListActiveByContact(_ context.Context, contactID string) ([]*models.Execution, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	return er.loadWhere(func(e *models.Execution) bool {
		return e.ContactID == contactID && !e.IsTerminal()
	})
}

// LastEnrollments maps each contact of the workflow to its latest enrollment time.
func (er *ExecutionRepository) LastEnrollments(_ context.Context, workflowID string) (map[string]time.Time, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	executions, err := er.loadWhere(func(e *models.Execution) bool {
		return e.WorkflowID == workflowID
	})
	if err != nil {
		return nil, err
	}

	latest := make(map[string]time.Time, len(executions))

	for _, execution := range executions {
		if execution.CreatedAt.After(latest[execution.ContactID]) {
			latest[execution.ContactID] = execution.CreatedAt
		}
	}

	return latest, nil
}

// Stats aggregates the executions of a workflow.
func (er *ExecutionRepository) Stats(_ context.Context, workflowID string) (*models.WorkflowStats, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	executions, err := er.loadWhere(func(e *models.Execution) bool {
		return e.WorkflowID == workflowID
	})
	if err != nil {
		return nil, err
	}

	stats := &models.WorkflowStats{
		WorkflowID:    workflowID,
		ByStatus:      make(map[models.ExecutionStatus]int64),
		NodeOccupancy: make(map[string]int64),
	}

	for _, execution := range executions {
		stats.ByStatus[execution.Status]++

		if execution.GoalAchieved {
			stats.GoalsAchieved++
		}

		if !execution.IsTerminal() && execution.CurrentNodeID != "" {
			stats.NodeOccupancy[execution.CurrentNodeID]++
		}
	}

	stats.Finalize()

	return stats, nil
}

func (er *ExecutionRepository) loadWhere(match func(*models.Execution) bool) ([]*models.Execution, error) {
	ids, err := er.store.ids(executionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0)

	for _, id := range ids {
		var execution models.Execution

		found, err := er.store.read(executionsDir, id, &execution)
		if err != nil {
			return nil, err
		}

		if found && match(&execution) {
			executions = append(executions, &execution)
		}
	}

	return executions, nil
}
