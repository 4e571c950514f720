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

// ContactRepository handles contacts, tags, purchases, course progress and email events.
type ContactRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func contactNotFound(id string) error {
	return fmt.Errorf("%w: %s", persistence.ErrContactNotFound, id)
}

// Contact returns a contact with its tags.
func (r *ContactRepository) Contact(ctx context.Context, id string) (*models.Contact, error) {
	query := `
		SELECT
			c.id
		  , c.scope
		  , c.email
		  , c.first_name
		  , c.last_name
		  , c.fields
		  , c.last_activity_at
		  , c.created_at
		  , COALESCE(ARRAY_AGG(t.tag ORDER BY t.tag) FILTER (WHERE t.tag IS NOT NULL), '{}')
		FROM contacts c
		LEFT JOIN contact_tags t ON t.contact_id = c.id
		WHERE c.id = $1
		GROUP BY c.id
	`

	var (
		contact      models.Contact
		fields       []byte
		lastActivity sql.NullTime
		tags         pq.StringArray
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&contact.ID,
		&contact.Scope,
		&contact.Email,
		&contact.FirstName,
		&contact.LastName,
		&fields,
		&lastActivity,
		&contact.CreatedAt,
		&tags,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contactNotFound(id)
		}

		return nil, fmt.Errorf("failed to query contact %s: %w", id, err)
	}

	if err := json.Unmarshal(fields, &contact.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact fields: %w", err)
	}

	contact.LastActivityAt = nullTime(lastActivity)
	contact.Tags = tags

	return &contact, nil
}

// SaveContact upserts a contact and replaces its tags.
func (r *ContactRepository) SaveContact(ctx context.Context, contact *models.Contact) error {
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}

	fields := contact.Fields
	if fields == nil {
		fields = map[string]any{}
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal contact fields: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer rollback(ctx, r.logger, tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contacts (id, scope, email, first_name, last_name, fields, last_activity_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			scope = EXCLUDED.scope
		  , email = EXCLUDED.email
		  , first_name = EXCLUDED.first_name
		  , last_name = EXCLUDED.last_name
		  , fields = EXCLUDED.fields
		  , last_activity_at = EXCLUDED.last_activity_at
	`, contact.ID, contact.Scope, contact.Email, contact.FirstName, contact.LastName, fieldsJSON, contact.LastActivityAt, contact.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save contact %s: %w", contact.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM contact_tags WHERE contact_id = $1", contact.ID)
	if err != nil {
		return fmt.Errorf("failed to reset contact tags: %w", err)
	}

	for _, tag := range contact.Tags {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO contact_tags (contact_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING", contact.ID, tag)
		if err != nil {
			return fmt.Errorf("failed to save contact tag %s: %w", tag, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit contact %s: %w", contact.ID, err)
	}

	return nil
}

// AddTag adds a tag and reports whether it was new.
func (r *ContactRepository) AddTag(ctx context.Context, contactID, tag string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO contact_tags (contact_id, tag)
		SELECT id, $2 FROM contacts WHERE id = $1
		ON CONFLICT DO NOTHING
	`, contactID, tag)
	if err != nil {
		return false, fmt.Errorf("failed to add tag %s: %w", tag, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read tag result: %w", err)
	}

	if affected == 1 {
		return true, nil
	}

	return false, r.ensureContact(ctx, contactID)
}

// RemoveTag removes a tag and reports whether it was present.
func (r *ContactRepository) RemoveTag(ctx context.Context, contactID, tag string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM contact_tags WHERE contact_id = $1 AND tag = $2", contactID, tag)
	if err != nil {
		return false, fmt.Errorf("failed to remove tag %s: %w", tag, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read tag result: %w", err)
	}

	if affected == 1 {
		return true, nil
	}

	return false, r.ensureContact(ctx, contactID)
}

func (r *ContactRepository) ensureContact(ctx context.Context, contactID string) error {
	var exists bool

	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM contacts WHERE id = $1)", contactID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check contact %s: %w", contactID, err)
	}

	if !exists {
		return contactNotFound(contactID)
	}

	return nil
}

// ContactsWithTag returns the ids of contacts in scope carrying tag.
func (r *ContactRepository) ContactsWithTag(ctx context.Context, scope, tag string) ([]string, error) {
	return r.ids(ctx, `
		SELECT c.id
		FROM contacts c
		JOIN contact_tags t ON t.contact_id = c.id
		WHERE t.tag = $2
		  AND ($1 = '' OR c.scope = $1)
		ORDER BY c.id
	`, scope, tag)
}

// InactiveContacts returns the ids of contacts in scope without activity since the given time.
func (r *ContactRepository) InactiveContacts(ctx context.Context, scope string, since time.Time) ([]string, error) {
	return r.ids(ctx, `
		SELECT id
		FROM contacts
		WHERE COALESCE(last_activity_at, created_at) < $2
		  AND ($1 = '' OR scope = $1)
		ORDER BY id
	`, scope, since)
}

func (r *ContactRepository) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	ids := make([]string, 0)

	for rows.Next() {
		var id string

		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan contact id: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating contacts: %w", err)
	}

	return ids, nil
}

// TouchContact moves last_activity_at forward. Unknown contacts are ignored.
func (r *ContactRepository) TouchContact(ctx context.Context, contactID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET last_activity_at = GREATEST(COALESCE(last_activity_at, $2), $2)
		WHERE id = $1
	`, contactID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to touch contact %s: %w", contactID, err)
	}

	return nil
}

// Purchases returns the purchases of a contact.
func (r *ContactRepository) Purchases(ctx context.Context, contactID string) ([]models.Purchase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id, product_id, amount, purchased_at
		FROM purchases
		WHERE contact_id = $1
		ORDER BY purchased_at
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	purchases := make([]models.Purchase, 0)

	for rows.Next() {
		var purchase models.Purchase

		err := rows.Scan(&purchase.ContactID, &purchase.ProductID, &purchase.Amount, &purchase.PurchasedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}

		purchases = append(purchases, purchase)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}

	return purchases, nil
}

// RecordPurchase stores a purchase.
func (r *ContactRepository) RecordPurchase(ctx context.Context, purchase *models.Purchase) error {
	if purchase.PurchasedAt.IsZero() {
		purchase.PurchasedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO purchases (contact_id, product_id, amount, purchased_at)
		VALUES ($1, $2, $3, $4)
	`, purchase.ContactID, purchase.ProductID, purchase.Amount, purchase.PurchasedAt)
	if err != nil {
		return fmt.Errorf("failed to record purchase: %w", err)
	}

	return nil
}

// CourseProgress returns the course progress of a contact.
func (r *ContactRepository) CourseProgress(ctx context.Context, contactID string) ([]models.CourseProgress, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT contact_id, course_id, percent, completed, updated_at
		FROM course_progress
		WHERE contact_id = $1
		ORDER BY course_id
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to query course progress: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	progress := make([]models.CourseProgress, 0)

	for rows.Next() {
		var p models.CourseProgress

		err := rows.Scan(&p.ContactID, &p.CourseID, &p.Percent, &p.Completed, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course progress: %w", err)
		}

		progress = append(progress, p)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating course progress: %w", err)
	}

	return progress, nil
}

// SaveCourseProgress upserts the progress of one course.
func (r *ContactRepository) SaveCourseProgress(ctx context.Context, progress *models.CourseProgress) error {
	if progress.UpdatedAt.IsZero() {
		progress.UpdatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO course_progress (contact_id, course_id, percent, completed, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (contact_id, course_id) DO UPDATE SET
			percent = EXCLUDED.percent
		  , completed = EXCLUDED.completed
		  , updated_at = EXCLUDED.updated_at
	`, progress.ContactID, progress.CourseID, progress.Percent, progress.Completed, progress.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save course progress: %w", err)
	}

	return nil
}

// EmailEventsByExecution returns the email events attributed to an execution.
func (r *ContactRepository) EmailEventsByExecution(ctx context.Context, executionID string) ([]models.EmailEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contact_id, execution_id, workflow_id, node_id, variant_id, type, occurred_at
		FROM email_events
		WHERE execution_id = $1
		ORDER BY occurred_at
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query email events: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	events := make([]models.EmailEvent, 0)

	for rows.Next() {
		var (
			event     models.EmailEvent
			eventType string
		)

		err := rows.Scan(&event.ID, &event.ContactID, &event.ExecutionID, &event.WorkflowID,
			&event.NodeID, &event.VariantID, &eventType, &event.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email event: %w", err)
		}

		event.Type = models.EmailEventType(eventType)
		events = append(events, event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating email events: %w", err)
	}

	return events, nil
}

// RecordEmailEvent stores the event once per id and reports whether it was new.
func (r *ContactRepository) RecordEmailEvent(ctx context.Context, event *models.EmailEvent) (bool, error) {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return false, fmt.Errorf("failed to generate email event ID: %w", err)
		}

		event.ID = id.String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO email_events (id, contact_id, execution_id, workflow_id, node_id, variant_id, type, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, event.ContactID, event.ExecutionID, event.WorkflowID, event.NodeID, event.VariantID,
		string(event.Type), event.OccurredAt)
	if err != nil {
		return false, fmt.Errorf("failed to record email event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read email event result: %w", err)
	}

	return affected == 1, nil
}
