package file

import (
	"context"
	"time"
)

const markersDir = "markers"

// MarkerRepository records side-effect markers as empty documents.
type MarkerRepository struct {
	store *store
}

type marker struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// SetMarker records key and reports whether it was newly created.
func (mr *MarkerRepository) SetMarker(_ context.Context, key string) (bool, error) {
	mr.store.mu.Lock()
	defer mr.store.mu.Unlock()

	var existing marker

	found, err := mr.store.read(markersDir, key, &existing)
	if err != nil || found {
		return false, err
	}

	if err := mr.store.write(markersDir, key, &marker{Key: key, CreatedAt: time.Now().UTC()}); err != nil {
		return false, err
	}

	return true, nil
}

// HasMarker reports whether key was recorded.
func (mr *MarkerRepository) HasMarker(_ context.Context, key string) (bool, error) {
	mr.store.mu.Lock()
	defer mr.store.mu.Unlock()

	var existing marker

	return mr.store.read(markersDir, key, &existing)
}
