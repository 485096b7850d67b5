// Package storage provides WorkflowStore implementations.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"agentroute/internal/domain"
)

const fileExt = ".json"

// FileStore implements domain.WorkflowStore with one JSON file per workflow.
// Writes go to a temp file that is renamed into place.
type FileStore struct {
	dir string
	mu  sync.RWMutex
	now func() time.Time
}

// NewFileStore creates a file-backed workflow store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("workflowstore: create dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) Save(_ context.Context, wf *domain.WorkflowExecution) error {
	path, err := s.path(wf.ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(path, wf)
}

func (s *FileStore) Load(_ context.Context, id string) (*domain.WorkflowExecution, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readWorkflow(path, id)
}

func (s *FileStore) Update(_ context.Context, id string, patch domain.WorkflowPatch) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, err := readWorkflow(path, id)
	if err != nil {
		return err
	}
	patch.Apply(wf)
	wf.UpdatedAt = s.now()
	return writeJSON(path, wf)
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound("FileStore.Delete", id)
		}
		return domain.WrapOp("workflowstore: delete", err)
	}
	return nil
}

// List returns matching workflows, newest first.
func (s *FileStore) List(_ context.Context, filter domain.ListFilter) ([]domain.WorkflowExecution, error) {
	s.mu.RLock()
	all, err := s.readAll()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out := make([]domain.WorkflowExecution, 0, len(all))
	for _, wf := range all {
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter), nil
}

// CleanupOlderThan deletes terminal workflows not updated within age.
func (s *FileStore) CleanupOlderThan(_ context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, wf := range all {
		if !wf.Status.Terminal() || !wf.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, wf.ID+fileExt)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, domain.WrapOp("workflowstore: cleanup", err)
		}
		removed++
	}
	return removed, nil
}

// HealthCheck verifies the store directory is writable.
func (s *FileStore) HealthCheck(_ context.Context) error {
	probe := filepath.Join(s.dir, ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("workflowstore: health: %w: %w", domain.ErrStorage, err)
	}
	return os.Remove(probe)
}

// Close is a no-op; it lets FileStore satisfy Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("workflowstore: id %q: %w", id, domain.ErrInvalidInput)
	}
	return filepath.Join(s.dir, id+fileExt), nil
}

func (s *FileStore) readAll() ([]domain.WorkflowExecution, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, domain.WrapOp("workflowstore: read dir", err)
	}
	out := make([]domain.WorkflowExecution, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		wf, err := readWorkflow(filepath.Join(s.dir, name), id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *wf)
	}
	return out, nil
}

func readWorkflow(path, id string) (*domain.WorkflowExecution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound("FileStore.Load", id)
		}
		return nil, domain.WrapOp("workflowstore: read", err)
	}
	var wf domain.WorkflowExecution
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("workflowstore: parse %s: %w", filepath.Base(path), err)
	}
	return &wf, nil
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		os.Remove(tmp)
		return domain.WrapOp("write", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return domain.WrapOp("rename", err)
	}
	return nil
}

func notFound(op, id string) error {
	return domain.NewSubSystemError("workflow", op, domain.ErrNotFound, id)
}

func paginate(wfs []domain.WorkflowExecution, filter domain.ListFilter) []domain.WorkflowExecution {
	if filter.Offset > 0 {
		if filter.Offset >= len(wfs) {
			return []domain.WorkflowExecution{}
		}
		wfs = wfs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(wfs) {
		wfs = wfs[:filter.Limit]
	}
	return wfs
}

var _ domain.WorkflowStore = (*FileStore)(nil)
