package file

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
)

const (
	contactsDir    = "contacts"
	purchasesDir   = "purchases"
	coursesDir     = "courses"
	emailEventsDir = "email_events"

	unattributedEvents = "unattributed"
)

// ContactRepository stores contacts and the commerce and email facts conditions read.
type ContactRepository struct {
	store *store
}

// Contact returns the contact with the given id.
func (cr *ContactRepository) Contact(_ context.Context, id string) (*models.Contact, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	return cr.load(id)
}

func (cr *ContactRepository) load(id string) (*models.Contact, error) {
	var contact models.Contact

	found, err := cr.store.read(contactsDir, id, &contact)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("%w: %s", persistence.ErrContactNotFound, id)
	}

	return &contact, nil
}

// SaveContact creates or replaces a contact.
func (cr *ContactRepository) SaveContact(_ context.Context, contact *models.Contact) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}

	return cr.store.write(contactsDir, contact.ID, contact)
}

// AddTag adds a tag and reports whether the contact changed.
func (cr *ContactRepository) AddTag(_ context.Context, contactID, tag string) (bool, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	contact, err := cr.load(contactID)
	if err != nil {
		return false, err
	}

	if contact.HasTag(tag) {
		return false, nil
	}

	contact.Tags = append(contact.Tags, tag)

	return true, cr.store.write(contactsDir, contact.ID, contact)
}

// RemoveTag removes a tag and reports whether the contact changed.
func (cr *ContactRepository) RemoveTag(_ context.Context, contactID, tag string) (bool, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	contact, err := cr.load(contactID)
	if err != nil {
		return false, err
	}

	index := slices.Index(contact.Tags, tag)
	if index < 0 {
		return false, nil
	}

	contact.Tags = slices.Delete(contact.Tags, index, index+1)

	return true, cr.store.write(contactsDir, contact.ID, contact)
}

// ContactsWithTag returns the ids of contacts in scope carrying tag.
func (cr *ContactRepository) ContactsWithTag(_ context.Context, scope, tag string) ([]string, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	return cr.idsWhere(func(c *models.Contact) bool {
		return (scope == "" || c.Scope == scope) && c.HasTag(tag)
	})
}

// InactiveContacts returns the ids of contacts in scope with no activity since the given time.
func (cr *ContactRepository) InactiveContacts(_ context.Context, scope string, since time.Time) ([]string, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	return cr.idsWhere(func(c *models.Contact) bool {
		if scope != "" && c.Scope != scope {
			return false
		}

		last := c.CreatedAt
		if c.LastActivityAt != nil {
			last = *c.LastActivityAt
		}

		return last.Before(since)
	})
}

func (cr *ContactRepository) idsWhere(match func(*models.Contact) bool) ([]string, error) {
	ids, err := cr.store.ids(contactsDir)
	if err != nil {
		return nil, err
	}

	matched := make([]string, 0)

	for _, id := range ids {
		var contact models.Contact

		found, err := cr.store.read(contactsDir, id, &contact)
		if err != nil {
			return nil, err
		}

		if found && match(&contact) {
			matched = append(matched, contact.ID)
		}
	}

	sort.Strings(matched)

	return matched, nil
}

// TouchContact records activity. Unknown contacts are ignored.
func (cr *ContactRepository) TouchContact(_ context.Context, contactID string, at time.Time) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	contact, err := cr.load(contactID)
	if persistence.IsContactNotFound(err) {
		return nil
	}

	if err != nil {
		return err
	}

	at = at.UTC()
	if contact.LastActivityAt != nil && contact.LastActivityAt.After(at) {
		return nil
	}

	contact.LastActivityAt = &at

	return cr.store.write(contactsDir, contact.ID, contact)
}

// Purchases returns the purchases of a contact.
func (cr *ContactRepository) Purchases(_ context.Context, contactID string) ([]models.Purchase, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	var purchases []models.Purchase

	_, err := cr.store.read(purchasesDir, contactID, &purchases)

	return purchases, err
}

// RecordPurchase appends a purchase.
func (cr *ContactRepository) RecordPurchase(_ context.Context, purchase *models.Purchase) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	var purchases []models.Purchase

	if _, err := cr.store.read(purchasesDir, purchase.ContactID, &purchases); err != nil {
		return err
	}

	if purchase.PurchasedAt.IsZero() {
		purchase.PurchasedAt = time.Now().UTC()
	}

	purchases = append(purchases, *purchase)

	return cr.store.write(purchasesDir, purchase.ContactID, purchases)
}

// CourseProgress returns the course progress of a contact.
func (cr *ContactRepository) CourseProgress(_ context.Context, contactID string) ([]models.CourseProgress, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	var progress []models.CourseProgress

	_, err := cr.store.read(coursesDir, contactID, &progress)

	return progress, err
}

// SaveCourseProgress upserts the progress of one course.
func (cr *ContactRepository) SaveCourseProgress(_ context.Context, progress *models.CourseProgress) error {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	var all []models.CourseProgress

	if _, err := cr.store.read(coursesDir, progress.ContactID, &all); err != nil {
		return err
	}

	if progress.UpdatedAt.IsZero() {
		progress.UpdatedAt = time.Now().UTC()
	}

	index := slices.IndexFunc(all, func(p models.CourseProgress) bool {
		return p.CourseID == progress.CourseID
	})

	if index >= 0 {
		all[index] = *progress
	} else {
		all = append(all, *progress)
	}

	return cr.store.write(coursesDir, progress.ContactID, all)
}

// EmailEventsByExecution returns the email events attributed to an execution.
func (cr *ContactRepository) EmailEventsByExecution(_ context.Context, executionID string) ([]models.EmailEvent, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	var events []models.EmailEvent

	_, err := cr.store.read(emailEventsDir, executionID, &events)

	return events, err
}

// RecordEmailEvent stores an email event, deduplicated by id.
func (cr *ContactRepository) RecordEmailEvent(_ context.Context, event *models.EmailEvent) (bool, error) {
	cr.store.mu.Lock()
	defer cr.store.mu.Unlock()

	key := event.ExecutionID
	if key == "" {
		key = unattributedEvents
	}

	var events []models.EmailEvent

	if _, err := cr.store.read(emailEventsDir, key, &events); err != nil {
		return false, err
	}

	if event.ID != "" && slices.ContainsFunc(events, func(e models.EmailEvent) bool { return e.ID == event.ID }) {
		return false, nil
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	events = append(events, *event)

	return true, cr.store.write(emailEventsDir, key, events)
}
