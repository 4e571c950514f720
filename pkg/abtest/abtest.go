// Package abtest assigns executions to variants and declares winners of per-node A/B tests.
package abtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
)

// buckets is the resolution of the weighted assignment.
const buckets = 10000

var (
	// ErrUnknownVariant indicates a variant id that the test does not define.
	ErrUnknownVariant = errors.New("unknown variant")

	// ErrNoVariants indicates a test without variants.
	ErrNoVariants = errors.New("ab test has no variants")
)

// Assign picks a variant for the execution. The same (execution, node, variants) always
// yields the same variant.
func Assign(test *models.ABTest, executionID string) (*models.Variant, error) {
	if len(test.Variants) == 0 {
		return nil, ErrNoVariants
	}

	var total float64
	for _, variant := range test.Variants {
		total += variant.Percentage
	}

	if total <= 0 {
		return &test.Variants[0], nil
	}

	bucket := float64(xxhash.Sum64String(executionID+":"+test.NodeID)%buckets) / buckets

	var cumulative float64

	for i := range test.Variants {
		cumulative += test.Variants[i].Percentage / total
		if bucket < cumulative {
			return &test.Variants[i], nil
		}
	}

	return &test.Variants[len(test.Variants)-1], nil
}

// Leader returns the variant with the highest metric rate. Ties keep declaration order.
func Leader(test *models.ABTest) (*models.Variant, *models.Variant) {
	var leader, runnerUp *models.Variant

	rate := func(v *models.Variant) float64 {
		return test.Stats[v.ID].Rate(test.WinnerMetric)
	}

	for i := range test.Variants {
		variant := &test.Variants[i]

		switch {
		case leader == nil || rate(variant) > rate(leader):
			runnerUp = leader
			leader = variant
		case runnerUp == nil || rate(variant) > rate(runnerUp):
			runnerUp = variant
		}
	}

	return leader, runnerUp
}

// SampleReached reports whether enough executions were assigned to judge the test.
func SampleReached(test *models.ABTest) bool {
	var assigned int64
	for _, stats := range test.Stats {
		assigned += stats.Assigned
	}

	return assigned >= test.SampleSize
}

// Confidence is the one-sided two-proportion z-test confidence that leader's rate is higher
// than runnerUp's.
func Confidence(leader, runnerUp models.VariantStats, metric models.WinnerMetric) float64 {
	n1, n2 := float64(leader.Trials()), float64(runnerUp.Trials())
	if n1 == 0 || n2 == 0 {
		return 0
	}

	x1, x2 := float64(leader.Successes(metric)), float64(runnerUp.Successes(metric))
	p1, p2 := x1/n1, x2/n2
	pooled := (x1 + x2) / (n1 + n2)

	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return 0
	}

	z := (p1 - p2) / se

	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

// Winner returns the variant that beats the runner-up at the test's confidence level.
func Winner(test *models.ABTest) (*models.Variant, bool) {
	leader, runnerUp := Leader(test)
	if leader == nil || runnerUp == nil {
		return leader, leader != nil
	}

	confidence := Confidence(test.Stats[leader.ID], test.Stats[runnerUp.ID], test.WinnerMetric)

	return leader, confidence >= test.Confidence()
}

// Manager runs A/B tests on top of the test repository.
type Manager struct {
	repo   persistence.ABTestRepository
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(repo persistence.ABTestRepository, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		logger: logger.With("module", "abtest"),
	}
}

// Resolve returns the variant an execution takes at a node. An existing assignment always wins.
// Closed tests route unassigned executions to their winner without recording an assignment.
func (m *Manager) Resolve(ctx context.Context, workflowID, nodeID, executionID string) (*models.Variant, error) {
	test, err := m.repo.Get(ctx, workflowID, nodeID)
	if err != nil {
		return nil, err
	}

	existing, err := m.repo.GetAssignment(ctx, workflowID, nodeID, executionID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return variantOf(test, existing.VariantID)
	}

	if test.Status != models.ABTestStatusRunning {
		return closedVariant(test)
	}

	picked, err := Assign(test, executionID)
	if err != nil {
		return nil, err
	}

	stored, err := m.repo.Assign(ctx, &models.VariantAssignment{
		WorkflowID:  workflowID,
		NodeID:      nodeID,
		ExecutionID: executionID,
		VariantID:   picked.ID,
	})
	if err != nil {
		return nil, err
	}

	if _, err := m.Evaluate(ctx, workflowID, nodeID); err != nil {
		m.logger.WarnContext(ctx, "failed to evaluate ab test", "workflow_id", workflowID, "node_id", nodeID, "error", err)
	}

	return variantOf(test, stored.VariantID)
}

func closedVariant(test *models.ABTest) (*models.Variant, error) {
	if test.WinnerVariantID != "" {
		return variantOf(test, test.WinnerVariantID)
	}

	leader, _ := Leader(test)
	if leader == nil {
		return nil, ErrNoVariants
	}

	return leader, nil
}

func variantOf(test *models.ABTest, variantID string) (*models.Variant, error) {
	variant := test.Variant(variantID)
	if variant == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
	}

	return variant, nil
}

// RecordEvent bumps a variant counter and re-evaluates the test.
func (m *Manager) RecordEvent(ctx context.Context, workflowID, nodeID, variantID string, event models.VariantEventType) error {
	test, err := m.repo.Get(ctx, workflowID, nodeID)
	if err != nil {
		return err
	}

	if test.Variant(variantID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
	}

	if err := m.repo.Increment(ctx, workflowID, nodeID, variantID, event); err != nil {
		return err
	}

	_, err = m.Evaluate(ctx, workflowID, nodeID)

	return err
}

// Evaluate completes a running test once the sample size is reached and a winner is significant.
func (m *Manager) Evaluate(ctx context.Context, workflowID, nodeID string) (*models.ABTest, error) {
	test, err := m.repo.Get(ctx, workflowID, nodeID)
	if err != nil {
		return nil, err
	}

	if test.Status != models.ABTestStatusRunning || !SampleReached(test) {
		return test, nil
	}

	winner, significant := Winner(test)
	if !significant {
		return test, nil
	}

	if err := m.repo.Complete(ctx, workflowID, nodeID, winner.ID, models.ABTestStatusCompleted); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "ab test completed",
		"workflow_id", workflowID,
		"node_id", nodeID,
		"winner", winner.ID,
		"metric", test.WinnerMetric,
	)

	test.Status = models.ABTestStatusCompleted
	test.WinnerVariantID = winner.ID

	return test, nil
}

// SelectWinner closes the test with a manually chosen winner.
func (m *Manager) SelectWinner(ctx context.Context, workflowID, nodeID, variantID string) error {
	test, err := m.repo.Get(ctx, workflowID, nodeID)
	if err != nil {
		return err
	}

	if test.Variant(variantID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
	}

	return m.repo.Complete(ctx, workflowID, nodeID, variantID, models.ABTestStatusCompleted)
}

// Stop ends a running test. A significant leader becomes the winner; otherwise the test is
// stopped and executions follow the current leader.
func (m *Manager) Stop(ctx context.Context, workflowID, nodeID string) error {
	test, err := m.repo.Get(ctx, workflowID, nodeID)
	if err != nil {
		return err
	}

	if test.Status != models.ABTestStatusRunning {
		return nil
	}

	if winner, significant := Winner(test); significant {
		return m.repo.Complete(ctx, workflowID, nodeID, winner.ID, models.ABTestStatusCompleted)
	}

	return m.repo.Complete(ctx, workflowID, nodeID, "", models.ABTestStatusStopped)
}
