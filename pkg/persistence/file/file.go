// Package file provides file-based persistence implementation for workflows, executions and A/B tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/nurture/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Every repository shares one lock so that read-check-write sequences are atomic
// within the process.
type Persistence struct {
	root  string
	store *store

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	abTestRepo    *ABTestRepository
	markerRepo    *MarkerRepository
	contactRepo   *ContactRepository
	eventLogRepo  *EventLogRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	s := &store{root: cleanRoot}

	return &Persistence{
		root:          cleanRoot,
		store:         s,
		workflowRepo:  &WorkflowRepository{store: s},
		executionRepo: &ExecutionRepository{store: s},
		abTestRepo:    &ABTestRepository{store: s},
		markerRepo:    &MarkerRepository{store: s},
		contactRepo:   &ContactRepository{store: s},
		eventLogRepo:  &EventLogRepository{store: s},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// WorkflowRepository returns the workflow repository implementation for file persistence.
func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

// ExecutionRepository returns the execution repository implementation for file persistence.
func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

// ABTestRepository returns the A/B test repository implementation for file persistence.
func (fp *Persistence) ABTestRepository() persistence.ABTestRepository {
	return fp.abTestRepo
}

// MarkerRepository returns the idempotency marker repository implementation for file persistence.
func (fp *Persistence) MarkerRepository() persistence.MarkerRepository {
	return fp.markerRepo
}

// ContactRepository returns the contact repository implementation for file persistence.
func (fp *Persistence) ContactRepository() persistence.ContactRepository {
	return fp.contactRepo
}

// EventLogRepository returns the event log repository implementation for file persistence.
func (fp *Persistence) EventLogRepository() persistence.EventLogRepository {
	return fp.eventLogRepo
}

// store holds the JSON document helpers shared by every repository.
type store struct {
	mu   sync.Mutex
	root string
}

func (s *store) filePath(dir, id string) string {
	return filepath.Clean(path.Join(s.root, dir, safeName(id)+".json"))
}

// read decodes the document into v. It reports false when the file does not exist.
func (s *store) read(dir, id string, v any) (bool, error) {
	body, err := os.ReadFile(s.filePath(dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s/%s: %w", dir, id, err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s/%s: %w", dir, id, err)
	}

	return true, nil
}

// write stores v through a temporary file and rename so readers never see partial documents.
func (s *store) write(dir, id string, v any) error {
	err := os.MkdirAll(path.Join(s.root, dir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	target := s.filePath(dir, id)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", dir, id, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to commit %s/%s: %w", dir, id, err)
	}

	return nil
}

func (s *store) remove(dir, id string) error {
	err := os.Remove(s.filePath(dir, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", dir, id, err)
	}

	return nil
}

// ids lists the document ids stored in dir.
func (s *store) ids(dir string) ([]string, error) {
	entries, err := os.ReadDir(path.Join(s.root, dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s directory: %w", dir, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}

// safeName turns composite keys into file names.
func safeName(id string) string {
	return strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_").Replace(id)
}
