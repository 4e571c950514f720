package file

import (
	"context"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/google/uuid"
)

const eventsDir = "events"

// EventLogRepository appends inbound events to one document per contact.
type EventLogRepository struct {
	store *store
}

// Append stores the event, assigning an id and timestamp when missing.
func (lr *EventLogRepository) Append(_ context.Context, event *models.Event) error {
	lr.store.mu.Lock()
	defer lr.store.mu.Unlock()

	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		event.ID = id.String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	var events []*models.Event

	if _, err := lr.store.read(eventsDir, event.ContactID, &events); err != nil {
		return err
	}

	events = append(events, event)

	return lr.store.write(eventsDir, event.ContactID, events)
}

// List returns the most recent events of a contact, newest first.
func (lr *EventLogRepository) List(_ context.Context, contactID string, limit int) ([]*models.Event, error) {
	lr.store.mu.Lock()
	defer lr.store.mu.Unlock()

	var events []*models.Event

	if _, err := lr.store.read(eventsDir, contactID, &events); err != nil {
		return nil, err
	}

	newest := make([]*models.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		newest = append(newest, events[i])
	}

	if limit > 0 && len(newest) > limit {
		newest = newest[:limit]
	}

	return newest, nil
}
