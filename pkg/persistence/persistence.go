// Package persistence provides the data storage abstraction layer for workflows, executions and A/B tests.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/nurture/pkg/models"
)

// Persistence groups every repository behind one backend.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	ABTestRepository() ABTestRepository
	MarkerRepository() MarkerRepository
	ContactRepository() ContactRepository
	EventLogRepository() EventLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions with their embedded graph.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	// ListActive returns active workflows in scope with the given trigger type.
	ListActive(ctx context.Context, scope string, triggerType models.TriggerType) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores executions, mutated in place across their lifetime.
type ExecutionRepository interface {
	// Enroll inserts the execution unless a non-terminal execution of the same
	// (workflow, contact) exists and the execution does not allow multiple runs.
	// The check and insert are one atomic unit. Returns ErrAlreadyEnrolled on conflict.
	Enroll(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	// Update writes the execution if its stored version equals execution.Version,
	// then bumps execution.Version. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, execution *models.Execution) error
	// Due returns non-terminal executions with scheduledFor <= now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error)
	// Claim leases a due execution by bumping its version and pushing scheduledFor to leaseUntil.
	// Returns ErrVersionConflict if another dispatcher claimed it first.
	Claim(ctx context.Context, execution *models.Execution, leaseUntil time.Time) error
	ListByWorkflow(ctx context.Context, workflowID string, filter models.ExecutionFilter) ([]*models.Execution, error)
	ListActiveByContact(ctx context.Context, contactID string) ([]*models.Execution, error)
	// LastEnrollments maps every contact ever enrolled in the workflow to its latest enrollment time.
	LastEnrollments(ctx context.Context, workflowID string) (map[string]time.Time, error)
	Stats(ctx context.Context, workflowID string) (*models.WorkflowStats, error)
}

// ABTestRepository stores per-node A/B tests, immutable variant assignments and counters.
type ABTestRepository interface {
	Get(ctx context.Context, workflowID, nodeID string) (*models.ABTest, error)
	Save(ctx context.Context, test *models.ABTest) error
	// Assign stores the assignment if none exists for (node, execution) and returns the stored one.
	Assign(ctx context.Context, assignment *models.VariantAssignment) (*models.VariantAssignment, error)
	GetAssignment(ctx context.Context, workflowID, nodeID, executionID string) (*models.VariantAssignment, error)
	Increment(ctx context.Context, workflowID, nodeID, variantID string, event models.VariantEventType) error
	Complete(ctx context.Context, workflowID, nodeID, winnerVariantID string, status models.ABTestStatus) error
}

// MarkerRepository stores idempotency markers for side effects.
type MarkerRepository interface {
	// SetMarker records the marker and reports whether it was newly created.
	SetMarker(ctx context.Context, key string) (bool, error)
	HasMarker(ctx context.Context, key string) (bool, error)
}

// ContactRepository is the local contact, commerce and email event store.
type ContactRepository interface {
	Contact(ctx context.Context, id string) (*models.Contact, error)
	SaveContact(ctx context.Context, contact *models.Contact) error
	AddTag(ctx context.Context, contactID, tag string) (bool, error)
	RemoveTag(ctx context.Context, contactID, tag string) (bool, error)
	ContactsWithTag(ctx context.Context, scope, tag string) ([]string, error)
	InactiveContacts(ctx context.Context, scope string, since time.Time) ([]string, error)
	TouchContact(ctx context.Context, contactID string, at time.Time) error

	Purchases(ctx context.Context, contactID string) ([]models.Purchase, error)
	RecordPurchase(ctx context.Context, purchase *models.Purchase) error
	CourseProgress(ctx context.Context, contactID string) ([]models.CourseProgress, error)
	SaveCourseProgress(ctx context.Context, progress *models.CourseProgress) error

	EmailEventsByExecution(ctx context.Context, executionID string) ([]models.EmailEvent, error)
	// RecordEmailEvent stores the callback and reports whether it was new (deduplicated by ID).
	RecordEmailEvent(ctx context.Context, event *models.EmailEvent) (bool, error)
}

// EventLogRepository keeps every inbound business event.
type EventLogRepository interface {
	Append(ctx context.Context, event *models.Event) error
	List(ctx context.Context, contactID string, limit int) ([]*models.Event, error)
}
