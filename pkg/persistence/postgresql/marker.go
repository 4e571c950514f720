package postgresql

import (
	"context"
	"database/sql"
	"fmt"
)

// MarkerRepository stores side-effect markers in the step_markers table.
type MarkerRepository struct {
	db *sql.DB
}

// SetMarker inserts the marker and reports whether this call created it.
func (r *MarkerRepository) SetMarker(ctx context.Context, key string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"INSERT INTO step_markers (key) VALUES ($1) ON CONFLICT (key) DO NOTHING", key)
	if err != nil {
		return false, fmt.Errorf("failed to set marker %s: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read marker result: %w", err)
	}

	return affected == 1, nil
}

// HasMarker reports whether the marker exists.
func (r *MarkerRepository) HasMarker(ctx context.Context, key string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM step_markers WHERE key = $1)", key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check marker %s: %w", key, err)
	}

	return exists, nil
}
