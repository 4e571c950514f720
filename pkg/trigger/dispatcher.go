// Package trigger matches business events to active workflows and enrolls contacts.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/goal"
	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrInvalidEvent is returned for events missing scope, type or contact.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrNoStartNode is returned when enrolling into a workflow without a trigger node.
	ErrNoStartNode = errors.New("workflow has no start node")
)

// Result summarizes what one event caused.
type Result struct {
	EventID  string   `json:"event_id"`
	Enrolled []string `json:"enrolled"`
	Skipped  int      `json:"skipped"`
	Woken    int      `json:"woken"`
}

// Dispatcher is the entry point of every business event: it logs the event, records the
// facts it carries, wakes executions whose goal may now hold and enrolls the contact into
// every matching workflow.
type Dispatcher struct {
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	contacts   persistence.ContactRepository
	eventLog   persistence.EventLogRepository
	publisher  eventbus.EventPublisher
	validate   *validator.Validate
	now        func() time.Time
	logger     *slog.Logger
}

func NewDispatcher(store persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Dispatcher {
	if publisher == nil {
		publisher = eventbus.Discard
	}

	return &Dispatcher{
		workflows:  store.WorkflowRepository(),
		executions: store.ExecutionRepository(),
		contacts:   store.ContactRepository(),
		eventLog:   store.EventLogRepository(),
		publisher:  publisher,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With("module", "trigger_dispatcher"),
	}
}

// SetClock replaces the time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Emit dispatches events raised by workflows themselves.
func (d *Dispatcher) Emit(ctx context.Context, event *models.Event) error {
	_, err := d.Dispatch(ctx, event)

	return err
}

// Dispatch handles one business event. Enrollment failures of one workflow do not prevent
// enrollment into the others; they are joined into the returned error.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.Event) (*Result, error) {
	if err := d.validate.Struct(event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, err
		}

		event.ID = id.String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.now()
	}

	logger := d.logger.With("event_id", event.ID, "event_type", event.Type, "contact_id", event.ContactID, "scope", event.Scope)

	if err := d.eventLog.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to log event %s: %w", event.ID, err)
	}

	if err := d.record(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record event %s: %w", event.ID, err)
	}

	result := &Result{EventID: event.ID, Enrolled: []string{}}

	woken, err := d.wake(ctx, event)
	if err != nil {
		logger.WarnContext(ctx, "failed to wake executions for goal check", "error", err)
	}

	result.Woken = woken

	triggerType, ok := event.TriggerType()
	if !ok {
		logger.DebugContext(ctx, "event triggers no workflow type", "woken", woken)

		return result, nil
	}

	workflows, err := d.workflows.ListActive(ctx, event.Scope, triggerType)
	if err != nil {
		return result, fmt.Errorf("failed to list active workflows: %w", err)
	}

	var errs []error

	for _, workflow := range workflows {
		if !Matches(workflow, event) {
			continue
		}

		execution, err := d.Enroll(ctx, workflow, event.ContactID, seed(event))

		switch {
		case persistence.IsAlreadyEnrolled(err):
			result.Skipped++

			logger.DebugContext(ctx, "contact already enrolled", "workflow_id", workflow.ID)
		case err != nil:
			errs = append(errs, err)

			logger.ErrorContext(ctx, "enrollment failed", "workflow_id", workflow.ID, "error", err)
		default:
			result.Enrolled = append(result.Enrolled, execution.ID)
		}
	}

	logger.InfoContext(ctx, "event dispatched",
		"enrolled", len(result.Enrolled),
		"skipped", result.Skipped,
		"woken", result.Woken,
	)

	return result, errors.Join(errs...)
}

// Enroll creates an execution at the workflow's start node, due now. It returns an
// ErrAlreadyEnrolled error when the contact is already active in the workflow and the
// workflow does not allow multiple runs.
func (d *Dispatcher) Enroll(ctx context.Context, workflow *models.Workflow, contactID string, data map[string]any) (*models.Execution, error) {
	start, ok := graph.New(workflow).Start()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoStartNode, workflow.ID)
	}

	if data == nil {
		data = map[string]any{}
	}

	now := d.now()
	execution := &models.Execution{
		WorkflowID:    workflow.ID,
		ContactID:     contactID,
		Status:        models.ExecutionStatusPending,
		CurrentNodeID: start,
		ScheduledFor:  &now,
		Data:          data,
		AllowMultiple: workflow.Settings.AllowMultipleRuns,
	}

	if err := d.executions.Enroll(ctx, execution); err != nil {
		return nil, err
	}

	d.logger.InfoContext(ctx, "contact enrolled",
		"workflow_id", workflow.ID,
		"execution_id", execution.ID,
		"contact_id", contactID,
	)

	err := d.publisher.Publish(ctx, execution.ID, events.ExecutionEnrolled{
		BaseEvent:    events.NewBaseEvent(events.ExecutionEnrolledEvent, workflow.ID),
		ExecutionRef: events.Ref(execution),
		TriggerType:  workflow.Trigger.Type,
		StartNodeID:  start,
	})
	if err != nil {
		d.logger.WarnContext(ctx, "failed to publish enrollment", "execution_id", execution.ID, "error", err)
	}

	return execution, nil
}

// record stores the facts an event carries so conditions and goals can see them.
func (d *Dispatcher) record(ctx context.Context, event *models.Event) error {
	switch event.Type {
	case models.EventTypeScheduled, models.EventTypeInactivity:
		return nil
	case models.EventTypeSignup:
		if err := d.createContact(ctx, event); err != nil {
			return err
		}
	case models.EventTypePurchase:
		amount, _ := event.Payload["amount"].(float64)

		err := d.contacts.RecordPurchase(ctx, &models.Purchase{
			ContactID:   event.ContactID,
			ProductID:   event.ProductID,
			Amount:      amount,
			PurchasedAt: event.OccurredAt,
		})
		if err != nil {
			return err
		}
	case models.EventTypeTagAdded:
		if _, err := d.contacts.AddTag(ctx, event.ContactID, event.Tag); err != nil && !persistence.IsContactNotFound(err) {
			return err
		}
	case models.EventTypeCourseCompleted:
		courseID, _ := event.Payload["course_id"].(string)
		if courseID != "" {
			err := d.contacts.SaveCourseProgress(ctx, &models.CourseProgress{
				ContactID: event.ContactID,
				CourseID:  courseID,
				Percent:   100,
				Completed: true,
				UpdatedAt: event.OccurredAt,
			})
			if err != nil {
				return err
			}
		}
	}

	return d.contacts.TouchContact(ctx, event.ContactID, event.OccurredAt)
}

func (d *Dispatcher) createContact(ctx context.Context, event *models.Event) error {
	email, _ := event.Payload["email"].(string)
	if email == "" {
		return nil
	}

	_, err := d.contacts.Contact(ctx, event.ContactID)
	if !persistence.IsContactNotFound(err) {
		return err
	}

	firstName, _ := event.Payload["first_name"].(string)
	lastName, _ := event.Payload["last_name"].(string)

	return d.contacts.SaveContact(ctx, &models.Contact{
		ID:        event.ContactID,
		Scope:     event.Scope,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		CreatedAt: event.OccurredAt,
	})
}

// wake makes the contact's active executions due now when the event may satisfy their
// workflow goal, so the goal check runs on the next tick instead of at the end of a delay.
// Executions waiting on a retry backoff or leased by a scheduler keep their schedule.
func (d *Dispatcher) wake(ctx context.Context, event *models.Event) (int, error) {
	active, err := d.executions.ListActiveByContact(ctx, event.ContactID)
	if err != nil {
		return 0, err
	}

	now := d.now()
	workflows := map[string]*models.Workflow{}
	woken := 0

	for _, execution := range active {
		if execution.IsDue(now) || execution.IsLeased(now) || execution.Attempts > 0 {
			continue
		}

		workflow, ok := workflows[execution.WorkflowID]
		if !ok {
			workflow, err = d.workflows.GetByID(ctx, execution.WorkflowID)
			if err != nil {
				continue
			}

			workflows[execution.WorkflowID] = workflow
		}

		if !goal.Prompts(workflow.Goal, event.Type) {
			continue
		}

		execution.ScheduledFor = &now
		execution.UpdatedAt = now

		err := d.executions.Update(ctx, execution)
		if persistence.IsVersionConflict(err) {
			continue
		}

		if err != nil {
			return woken, err
		}

		woken++
	}

	return woken, nil
}

// seed builds the initial execution data of an enrollment: the event payload plus a
// description of the event under "trigger".
func seed(event *models.Event) map[string]any {
	data := make(map[string]any, len(event.Payload)+1)

	for key, value := range event.Payload {
		data[key] = value
	}

	trigger := map[string]any{
		"event_id":    event.ID,
		"type":        string(event.Type),
		"occurred_at": event.OccurredAt.Format(time.RFC3339),
	}

	for key, value := range map[string]string{
		"name":        event.Name,
		"tag":         event.Tag,
		"product_id":  event.ProductID,
		"list_id":     event.ListID,
		"webhook_key": event.WebhookKey,
	} {
		if value != "" {
			trigger[key] = value
		}
	}

	data["trigger"] = trigger

	return data
}
