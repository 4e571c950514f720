package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const executionColumns = `
	id
  , workflow_id
  , contact_id
  , status
  , current_node_id
  , scheduled_for
  , wake_at
  , data
  , visits
  , attempts
  , error
  , error_detail
  , last_successful_node_id
  , goal_achieved
  , allow_multiple
  , version
  , created_at
  , updated_at
  , completed_at
  , leased_until
`

// ExecutionRepository handles execution rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution    models.Execution
		status       string
		scheduledFor sql.NullTime
		wakeAt       sql.NullTime
		completedAt  sql.NullTime
		leasedUntil  sql.NullTime
		data, visits []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.ContactID,
		&status,
		&execution.CurrentNodeID,
		&scheduledFor,
		&wakeAt,
		&data,
		&visits,
		&execution.Attempts,
		&execution.Error,
		&execution.ErrorDetail,
		&execution.LastNodeID,
		&execution.GoalAchieved,
		&execution.AllowMultiple,
		&execution.Version,
		&execution.CreatedAt,
		&execution.UpdatedAt,
		&completedAt,
		&leasedUntil,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	execution.ScheduledFor = nullTime(scheduledFor)
	execution.WakeAt = nullTime(wakeAt)
	execution.CompletedAt = nullTime(completedAt)
	execution.LeasedUntil = nullTime(leasedUntil)

	if err := json.Unmarshal(data, &execution.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution data: %w", err)
	}

	if err := json.Unmarshal(visits, &execution.Visits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution visits: %w", err)
	}

	return &execution, nil
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}

	t := value.Time.UTC()

	return &t
}

func encodeExecutionState(execution *models.Execution) ([]byte, []byte, error) {
	data := execution.Data
	if data == nil {
		data = map[string]any{}
	}

	visits := execution.Visits
	if visits == nil {
		visits = map[string]int{}
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal execution data: %w", err)
	}

	visitsJSON, err := json.Marshal(visits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal execution visits: %w", err)
	}

	return dataJSON, visitsJSON, nil
}

// Enroll inserts the execution. The partial unique index rejects a second active single-run execution.
func (r *ExecutionRepository) Enroll(ctx context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewExecutionError("Enroll", execution, err)
		}

		execution.ID = id.String()
	}

	data, visits, err := encodeExecutionState(execution)
	if err != nil {
		return persistence.NewExecutionError("Enroll", execution, err)
	}

	now := time.Now().UTC()

	query := `INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $16, $17, NULL)`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.ContactID,
		string(execution.Status),
		execution.CurrentNodeID,
		execution.ScheduledFor,
		execution.WakeAt,
		data,
		visits,
		execution.Attempts,
		execution.Error,
		execution.ErrorDetail,
		execution.LastNodeID,
		execution.GoalAchieved,
		execution.AllowMultiple,
		now,
		execution.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionError("Enroll", execution, persistence.ErrAlreadyEnrolled)
		}

		return persistence.NewExecutionError("Enroll", execution, err)
	}

	execution.Version = 1
	execution.CreatedAt = now
	execution.UpdatedAt = now

	return nil
}

// GetByID returns the execution with the given id.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("GetByID", &models.Execution{ID: id}, err)
	}

	return execution, nil
}

// Update writes every mutable column guarded by the version the caller read.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	data, visits, err := encodeExecutionState(execution)
	if err != nil {
		return persistence.NewExecutionError("Update", execution, err)
	}

	now := time.Now().UTC()

	query := `
		UPDATE executions SET
			status = $1
		  , current_node_id = $2
		  , scheduled_for = $3
		  , wake_at = $4
		  , data = $5
		  , visits = $6
		  , attempts = $7
		  , error = $8
		  , error_detail = $9
		  , last_successful_node_id = $10
		  , goal_achieved = $11
		  , completed_at = $12
		  , updated_at = $13
		  , leased_until = $14
		  , version = version + 1
		WHERE id = $15 AND version = $16
	`

	result, err := r.db.ExecContext(ctx, query,
		string(execution.Status),
		execution.CurrentNodeID,
		execution.ScheduledFor,
		execution.WakeAt,
		data,
		visits,
		execution.Attempts,
		execution.Error,
		execution.ErrorDetail,
		execution.LastNodeID,
		execution.GoalAchieved,
		execution.CompletedAt,
		now,
		execution.LeasedUntil,
		execution.ID,
		execution.Version,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution, err)
	}

	if err := r.checkGuarded(ctx, result, execution.ID); err != nil {
		return persistence.NewExecutionError("Update", execution, err)
	}

	execution.Version++
	execution.UpdatedAt = now

	return nil
}

// checkGuarded tells a missing row apart from a lost version race.
func (r *ExecutionRepository) checkGuarded(ctx context.Context, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 1 {
		return nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return err
	}

	if !exists {
		return persistence.ErrExecutionNotFound
	}

	return persistence.ErrVersionConflict
}

// Due returns non-terminal executions scheduled at or before now, oldest first.
// Parallel schedulers may read overlapping batches; the version guard in Claim decides
// which of them runs a row.
func (r *ExecutionRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE scheduled_for IS NOT NULL
		  AND scheduled_for <= $1
		  AND status IN ('pending', 'running')
		ORDER BY scheduled_for
		LIMIT $2`

	return r.query(ctx, query, now, limit)
}

// Claim leases the row until leaseUntil if nobody else touched it. The lease also pushes
// scheduled_for so Due skips the row while it is held.
func (r *ExecutionRepository) Claim(ctx context.Context, execution *models.Execution, leaseUntil time.Time) error {
	now := time.Now().UTC()
	lease := leaseUntil.UTC()

	query := `
		UPDATE executions SET
			scheduled_for = $1
		  , leased_until = $1
		  , updated_at = $2
		  , version = version + 1
		WHERE id = $3 AND version = $4
	`

	result, err := r.db.ExecContext(ctx, query, lease, now, execution.ID, execution.Version)
	if err != nil {
		return persistence.NewExecutionError("Claim", execution, err)
	}

	if err := r.checkGuarded(ctx, result, execution.ID); err != nil {
		return persistence.NewExecutionError("Claim", execution, err)
	}

	execution.ScheduledFor = &lease
	execution.LeasedUntil = &lease
	execution.UpdatedAt = now
	execution.Version++

	return nil
}

// ListByWorkflow lists the executions of a workflow, newest first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, filter models.ExecutionFilter) ([]*models.Execution, error) {
	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		statuses = append(statuses, string(status))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE workflow_id = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2))
		  AND ($3 = '' OR current_node_id = $3)
		ORDER BY created_at DESC
		LIMIT $4`

	return r.query(ctx, query, workflowID, pq.Array(statuses), filter.NodeID, limit)
}

// ListActiveByContact lists the non-terminal executions of a contact.
func (r *ExecutionRepository) ListActiveByContact(ctx context.Context, contactID string) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + `
		FROM executions
		WHERE contact_id = $1
		  AND status IN ('pending', 'running')
		ORDER BY created_at`

	return r.query(ctx, query, contactID)
}

// LastEnrollments maps each contact of the workflow to its latest enrollment time.
func (r *ExecutionRepository) LastEnrollments(ctx context.Context, workflowID string) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id, MAX(created_at)
		FROM executions
		WHERE workflow_id = $1
		GROUP BY contact_id
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query last enrollments: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	latest := make(map[string]time.Time)

	for rows.Next() {
		var (
			contactID  string
			enrolledAt time.Time
		)

		if err := rows.Scan(&contactID, &enrolledAt); err != nil {
			return nil, fmt.Errorf("failed to scan last enrollment: %w", err)
		}

		latest[contactID] = enrolledAt.UTC()
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating last enrollments: %w", err)
	}

	return latest, nil
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	return r.scanAll(ctx, rows)
}

func (r *ExecutionRepository) scanAll(ctx context.Context, rows *sql.Rows) ([]*models.Execution, error) {
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// Stats aggregates executions of a workflow by status and current node.
func (r *ExecutionRepository) Stats(ctx context.Context, workflowID string) (*models.WorkflowStats, error) {
	stats := &models.WorkflowStats{
		WorkflowID:    workflowID,
		ByStatus:      make(map[models.ExecutionStatus]int64),
		NodeOccupancy: make(map[string]int64),
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COUNT(*) FILTER (WHERE goal_achieved)
		FROM executions
		WHERE workflow_id = $1
		GROUP BY status
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution stats: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			status       string
			count, goals int64
		)

		if err := rows.Scan(&status, &count, &goals); err != nil {
			return nil, fmt.Errorf("failed to scan execution stats: %w", err)
		}

		stats.ByStatus[models.ExecutionStatus(status)] = count
		stats.GoalsAchieved += goals
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution stats: %w", err)
	}

	occupancy, err := r.db.QueryContext(ctx, `
		SELECT current_node_id, COUNT(*)
		FROM executions
		WHERE workflow_id = $1
		  AND status IN ('pending', 'running')
		  AND current_node_id <> ''
		GROUP BY current_node_id
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node occupancy: %w", err)
	}

	defer closeRows(ctx, r.logger, occupancy)

	for occupancy.Next() {
		var (
			nodeID string
			count  int64
		)

		if err := occupancy.Scan(&nodeID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan node occupancy: %w", err)
		}

		stats.NodeOccupancy[nodeID] = count
	}

	if err := occupancy.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node occupancy: %w", err)
	}

	stats.Finalize()

	return stats, nil
}
