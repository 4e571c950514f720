package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/schedule"
	"github.com/robfig/cron/v3"
)

const (
	DefaultInactivitySweep = "@hourly"

	scheduledPoll = "@every 1m"
)

// Cron raises the time-based events: "scheduled" triggers fire for every contact of their
// tag segment when their schedule comes due, and "inactivity" triggers fire for contacts
// without activity for the configured number of days.
type Cron struct {
	dispatcher *Dispatcher
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	contacts   persistence.ContactRepository
	runner     *cron.Cron

	mu         sync.Mutex
	lastPolled time.Time

	now    func() time.Time
	logger *slog.Logger
}

func NewCron(dispatcher *Dispatcher, store persistence.Persistence, inactivitySweep string, logger *slog.Logger) (*Cron, error) {
	if inactivitySweep == "" {
		inactivitySweep = DefaultInactivitySweep
	}

	c := &Cron{
		dispatcher: dispatcher,
		workflows:  store.WorkflowRepository(),
		executions: store.ExecutionRepository(),
		contacts:   store.ContactRepository(),
		runner:     cron.New(),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With("module", "trigger_cron"),
	}

	c.lastPolled = c.now()

	if _, err := schedule.ParseCron(inactivitySweep); err != nil {
		return nil, err
	}

	if _, err := c.runner.AddFunc(scheduledPoll, func() { c.job("scheduled", c.FireScheduled) }); err != nil {
		return nil, fmt.Errorf("failed to register scheduled trigger poll: %w", err)
	}

	if _, err := c.runner.AddFunc(inactivitySweep, func() { c.job("inactivity", c.SweepInactive) }); err != nil {
		return nil, fmt.Errorf("failed to register inactivity sweep: %w", err)
	}

	return c, nil
}

// SetClock replaces the time source and restarts the scheduled poll window at the new time.
func (c *Cron) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now
	c.lastPolled = now()
}

// Start runs the jobs in the background until ctx is cancelled or Stop is called.
func (c *Cron) Start(ctx context.Context) {
	c.runner.Start()

	c.logger.InfoContext(ctx, "trigger cron started")

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

// Stop halts the jobs and waits for running ones to finish.
func (c *Cron) Stop() {
	<-c.runner.Stop().Done()
}

func (c *Cron) job(name string, run func(context.Context) (int, error)) {
	ctx := context.Background()

	fired, err := run(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "trigger job failed", "job", name, "fired", fired, "error", err)

		return
	}

	if fired > 0 {
		c.logger.InfoContext(ctx, "trigger job fired", "job", name, "fired", fired)
	}
}

// FireScheduled dispatches a "scheduled" event for every contact in the segment of each
// scheduled workflow whose next occurrence since the previous poll has come due.
// It returns the number of dispatched events.
func (c *Cron) FireScheduled(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	since := c.lastPolled

	workflows, err := c.active(ctx, models.TriggerTypeScheduled)
	if err != nil {
		return 0, err
	}

	fired := 0

	for _, workflow := range workflows {
		sched, err := schedule.Parse(workflow.Trigger.Config)
		if err != nil {
			c.logger.WarnContext(ctx, "invalid schedule", "workflow_id", workflow.ID, "error", err)

			continue
		}

		next := sched.Next(since)
		if next.IsZero() || next.After(now) {
			continue
		}

		tag := stringValue(workflow.Trigger.Config, "tag")

		contactIDs, err := c.contacts.ContactsWithTag(ctx, workflow.Scope, tag)
		if err != nil {
			return fired, err
		}

		for _, contactID := range contactIDs {
			fired += c.dispatch(ctx, &models.Event{
				Scope:      workflow.Scope,
				Type:       models.EventTypeScheduled,
				ContactID:  contactID,
				WorkflowID: workflow.ID,
				Payload:    map[string]any{"scheduled_for": next.Format(time.RFC3339)},
				OccurredAt: now,
			})
		}
	}

	c.lastPolled = now

	return fired, nil
}

// SweepInactive dispatches an "inactivity" event for each contact idle for longer than an
// inactivity workflow's configured days. Contacts already enrolled since their last activity
// are left alone so one idle period enrolls at most once.
func (c *Cron) SweepInactive(ctx context.Context) (int, error) {
	now := c.now()

	workflows, err := c.active(ctx, models.TriggerTypeInactivity)
	if err != nil {
		return 0, err
	}

	fired := 0

	for _, workflow := range workflows {
		days := intValue(workflow.Trigger.Config, "days")
		if days <= 0 {
			continue
		}

		contactIDs, err := c.contacts.InactiveContacts(ctx, workflow.Scope, now.Add(-time.Duration(days)*24*time.Hour))
		if err != nil {
			return fired, err
		}

		enrolledAt, err := c.executions.LastEnrollments(ctx, workflow.ID)
		if err != nil {
			return fired, err
		}

		for _, contactID := range contactIDs {
			if at, ok := enrolledAt[contactID]; ok && c.enrolledSinceActivity(ctx, contactID, at) {
				continue
			}

			fired += c.dispatch(ctx, &models.Event{
				Scope:      workflow.Scope,
				Type:       models.EventTypeInactivity,
				ContactID:  contactID,
				WorkflowID: workflow.ID,
				Payload:    map[string]any{"days": days},
				OccurredAt: now,
			})
		}
	}

	return fired, nil
}

func (c *Cron) dispatch(ctx context.Context, event *models.Event) int {
	if _, err := c.dispatcher.Dispatch(ctx, event); err != nil {
		c.logger.ErrorContext(ctx, "failed to dispatch time-based event",
			"workflow_id", event.WorkflowID,
			"contact_id", event.ContactID,
			"event_type", event.Type,
			"error", err,
		)

		return 0
	}

	return 1
}

func (c *Cron) active(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	all, err := c.workflows.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var matching []*models.Workflow

	for _, workflow := range all {
		if workflow.IsActive && workflow.Trigger.Type == triggerType {
			matching = append(matching, workflow)
		}
	}

	return matching, nil
}

func (c *Cron) enrolledSinceActivity(ctx context.Context, contactID string, enrolledAt time.Time) bool {
	contact, err := c.contacts.Contact(ctx, contactID)
	if err != nil {
		return false
	}

	last := contact.CreatedAt
	if contact.LastActivityAt != nil {
		last = *contact.LastActivityAt
	}

	return enrolledAt.After(last)
}
