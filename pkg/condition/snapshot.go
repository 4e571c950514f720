package condition

import (
	"context"
	"fmt"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/protocol"
	"github.com/dukex/nurture/pkg/template"
)

// Snapshot is the live contact and business state a condition is evaluated against.
// It is loaded fresh for every evaluation, never cached from enrollment time.
type Snapshot struct {
	Workflow    *models.Workflow
	Execution   *models.Execution
	Contact     *models.Contact
	Purchases   []models.Purchase
	Courses     map[string]models.CourseProgress
	EmailEvents []models.EmailEvent
}

// HasPurchased reports whether the contact bought the product. Empty productID matches any purchase.
func (s *Snapshot) HasPurchased(productID string) bool {
	for _, purchase := range s.Purchases {
		if productID == "" || purchase.ProductID == productID {
			return true
		}
	}

	return false
}

// Course returns the contact's progress in a course.
func (s *Snapshot) Course(courseID string) (models.CourseProgress, bool) {
	progress, ok := s.Courses[courseID]

	return progress, ok
}

// HasEmailEvent reports whether an email event of the given type exists for the execution.
// Empty nodeID matches any email node.
func (s *Snapshot) HasEmailEvent(eventType models.EmailEventType, nodeID string) bool {
	for _, event := range s.EmailEvents {
		if event.Type != eventType {
			continue
		}

		if nodeID == "" || event.NodeID == nodeID {
			return true
		}
	}

	return false
}

// TemplateData exposes the snapshot to expressions and email templates.
func (s *Snapshot) TemplateData() map[string]any {
	root := template.Data(s.Workflow, s.Execution, s.Contact)

	courses := make(map[string]any, len(s.Courses))
	for id, progress := range s.Courses {
		courses[id] = map[string]any{
			"percent":   progress.Percent,
			"completed": progress.Completed,
		}
	}

	purchases := make([]any, 0, len(s.Purchases))
	for _, purchase := range s.Purchases {
		purchases = append(purchases, purchase.ProductID)
	}

	root["courses"] = courses
	root["purchases"] = purchases

	return root
}

// Loader reads snapshots from the collaborator stores.
type Loader struct {
	contacts    protocol.ContactStore
	commerce    protocol.CommerceStore
	emailEvents protocol.EmailEventStore
}

// NewLoader creates a snapshot loader.
func NewLoader(contacts protocol.ContactStore, commerce protocol.CommerceStore, emailEvents protocol.EmailEventStore) *Loader {
	return &Loader{
		contacts:    contacts,
		commerce:    commerce,
		emailEvents: emailEvents,
	}
}

// Load reads the current state of the execution's contact.
func (l *Loader) Load(ctx context.Context, workflow *models.Workflow, execution *models.Execution) (*Snapshot, error) {
	contact, err := l.contacts.Contact(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact %s: %w", execution.ContactID, err)
	}

	purchases, err := l.commerce.Purchases(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchases of contact %s: %w", execution.ContactID, err)
	}

	progress, err := l.commerce.CourseProgress(ctx, execution.ContactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course progress of contact %s: %w", execution.ContactID, err)
	}

	events, err := l.emailEvents.EmailEventsByExecution(ctx, execution.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load email events of execution %s: %w", execution.ID, err)
	}

	courses := make(map[string]models.CourseProgress, len(progress))
	for _, p := range progress {
		courses[p.CourseID] = p
	}

	return &Snapshot{
		Workflow:    workflow,
		Execution:   execution,
		Contact:     contact,
		Purchases:   purchases,
		Courses:     courses,
		EmailEvents: events,
	}, nil
}
