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
)

// counterColumns maps variant events to their counter column.
var counterColumns = map[models.VariantEventType]string{
	models.VariantEventSent:    "sent",
	models.VariantEventOpened:  "opened",
	models.VariantEventClicked: "clicked",
}

// ABTestRepository handles A/B tests, their counters and assignments.
type ABTestRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func abTestNotFound(workflowID, nodeID string) error {
	return fmt.Errorf("%w: node %s in workflow %s", persistence.ErrABTestNotFound, nodeID, workflowID)
}

// Get returns a test with its counters.
func (r *ABTestRepository) Get(ctx context.Context, workflowID, nodeID string) (*models.ABTest, error) {
	query := `
		SELECT
			variants
		  , sample_size
		  , winner_metric
		  , confidence_level
		  , status
		  , winner_variant_id
		  , created_at
		  , updated_at
		  , completed_at
		FROM ab_tests
		WHERE workflow_id = $1 AND node_id = $2
	`

	var (
		test        = models.ABTest{WorkflowID: workflowID, NodeID: nodeID}
		variants    []byte
		metric      string
		status      string
		completedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, workflowID, nodeID).Scan(
		&variants,
		&test.SampleSize,
		&metric,
		&test.ConfidenceLevel,
		&status,
		&test.WinnerVariantID,
		&test.CreatedAt,
		&test.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, abTestNotFound(workflowID, nodeID)
		}

		return nil, fmt.Errorf("failed to query ab test: %w", err)
	}

	if err := json.Unmarshal(variants, &test.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ab test variants: %w", err)
	}

	test.WinnerMetric = models.WinnerMetric(metric)
	test.Status = models.ABTestStatus(status)
	test.CompletedAt = nullTime(completedAt)

	test.Stats, err = r.counters(ctx, workflowID, nodeID)
	if err != nil {
		return nil, err
	}

	return &test, nil
}

func (r *ABTestRepository) counters(ctx context.Context, workflowID, nodeID string) (map[string]models.VariantStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT variant_id, assigned, sent, opened, clicked
		FROM ab_variant_counters
		WHERE workflow_id = $1 AND node_id = $2
	`, workflowID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query variant counters: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	stats := make(map[string]models.VariantStats)

	for rows.Next() {
		var (
			variantID string
			counters  models.VariantStats
		)

		err := rows.Scan(&variantID, &counters.Assigned, &counters.Sent, &counters.Opened, &counters.Clicked)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant counters: %w", err)
		}

		stats[variantID] = counters
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating variant counters: %w", err)
	}

	return stats, nil
}

// Save upserts the test definition. Counters are left untouched.
func (r *ABTestRepository) Save(ctx context.Context, test *models.ABTest) error {
	variants, err := json.Marshal(test.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal ab test variants: %w", err)
	}

	now := time.Now().UTC()
	if test.CreatedAt.IsZero() {
		test.CreatedAt = now
	}

	if test.Status == "" {
		test.Status = models.ABTestStatusRunning
	}

	test.UpdatedAt = now

	query := `
		INSERT INTO ab_tests (
			workflow_id, node_id, variants, sample_size, winner_metric, confidence_level,
			status, winner_variant_id, created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workflow_id, node_id) DO UPDATE SET
			variants = EXCLUDED.variants
		  , sample_size = EXCLUDED.sample_size
		  , winner_metric = EXCLUDED.winner_metric
		  , confidence_level = EXCLUDED.confidence_level
		  , status = EXCLUDED.status
		  , winner_variant_id = EXCLUDED.winner_variant_id
		  , updated_at = EXCLUDED.updated_at
		  , completed_at = EXCLUDED.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		test.WorkflowID,
		test.NodeID,
		variants,
		test.SampleSize,
		string(test.WinnerMetric),
		test.ConfidenceLevel,
		string(test.Status),
		test.WinnerVariantID,
		test.CreatedAt,
		test.UpdatedAt,
		test.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save ab test: %w", err)
	}

	return nil
}

// Assign inserts the assignment if absent and returns the stored one.
func (r *ABTestRepository) Assign(ctx context.Context, assignment *models.VariantAssignment) (*models.VariantAssignment, error) {
	if assignment.AssignedAt.IsZero() {
		assignment.AssignedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	var exists bool

	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM ab_tests WHERE workflow_id = $1 AND node_id = $2)",
		assignment.WorkflowID, assignment.NodeID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check ab test: %w", err)
	}

	if !exists {
		return nil, abTestNotFound(assignment.WorkflowID, assignment.NodeID)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO ab_assignments (workflow_id, node_id, execution_id, variant_id, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow_id, node_id, execution_id) DO NOTHING
	`, assignment.WorkflowID, assignment.NodeID, assignment.ExecutionID, assignment.VariantID, assignment.AssignedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert assignment: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read assignment result: %w", err)
	}

	if inserted == 1 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ab_variant_counters (workflow_id, node_id, variant_id, assigned)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (workflow_id, node_id, variant_id) DO UPDATE SET assigned = ab_variant_counters.assigned + 1
		`, assignment.WorkflowID, assignment.NodeID, assignment.VariantID)
		if err != nil {
			return nil, fmt.Errorf("failed to count assignment: %w", err)
		}
	}

	stored, err := scanAssignment(tx.QueryRowContext(ctx, assignmentQuery,
		assignment.WorkflowID, assignment.NodeID, assignment.ExecutionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read assignment: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}

	return stored, nil
}

const assignmentQuery = `
	SELECT workflow_id, node_id, execution_id, variant_id, assigned_at
	FROM ab_assignments
	WHERE workflow_id = $1 AND node_id = $2 AND execution_id = $3
`

func scanAssignment(row scanner) (*models.VariantAssignment, error) {
	var assignment models.VariantAssignment

	err := row.Scan(
		&assignment.WorkflowID,
		&assignment.NodeID,
		&assignment.ExecutionID,
		&assignment.VariantID,
		&assignment.AssignedAt,
	)
	if err != nil {
		return nil, err
	}

	return &assignment, nil
}

// GetAssignment returns the assignment of an execution at a node, or nil when unassigned.
func (r *ABTestRepository) GetAssignment(ctx context.Context, workflowID, nodeID, executionID string) (*models.VariantAssignment, error) {
	assignment, err := scanAssignment(r.db.QueryRowContext(ctx, assignmentQuery, workflowID, nodeID, executionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query assignment: %w", err)
	}

	return assignment, nil
}

// Increment bumps one variant counter.
func (r *ABTestRepository) Increment(ctx context.Context, workflowID, nodeID, variantID string, event models.VariantEventType) error {
	column, ok := counterColumns[event]
	if !ok {
		return fmt.Errorf("unknown variant event %q", event)
	}

	query := fmt.Sprintf(`
		INSERT INTO ab_variant_counters (workflow_id, node_id, variant_id, %[1]s)
		SELECT workflow_id, node_id, $3, 1 FROM ab_tests WHERE workflow_id = $1 AND node_id = $2
		ON CONFLICT (workflow_id, node_id, variant_id) DO UPDATE SET %[1]s = ab_variant_counters.%[1]s + 1
	`, column)

	result, err := r.db.ExecContext(ctx, query, workflowID, nodeID, variantID)
	if err != nil {
		return fmt.Errorf("failed to increment %s counter: %w", column, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read counter result: %w", err)
	}

	if affected == 0 {
		return abTestNotFound(workflowID, nodeID)
	}

	return nil
}

// Complete records the final status and winner.
func (r *ABTestRepository) Complete(ctx context.Context, workflowID, nodeID, winnerVariantID string, status models.ABTestStatus) error {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE ab_tests SET
			status = $1
		  , winner_variant_id = $2
		  , completed_at = $3
		  , updated_at = $3
		WHERE workflow_id = $4 AND node_id = $5
	`, string(status), winnerVariantID, now, workflowID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to complete ab test: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read ab test result: %w", err)
	}

	if affected == 0 {
		return abTestNotFound(workflowID, nodeID)
	}

	return nil
}
