package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentroute/internal/domain"
	"agentroute/internal/infra/config"
)

// Both backends must behave identically; every test runs against each.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("file", func(t *testing.T) {
		s, err := NewFileStore(filepath.Join(t.TempDir(), "workflows"))
		require.NoError(t, err)
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "agentroute.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func sampleWorkflow(id string, status domain.WorkflowStatus, created time.Time) *domain.WorkflowExecution {
	return &domain.WorkflowExecution{
		ID:         id,
		TaskName:   "Add OAuth login",
		Status:     status,
		Priority:   domain.PriorityHigh,
		Complexity: domain.ComplexityComplex,
		Tasks: []domain.AgentTask{
			{ID: id + "-t1", WorkflowID: id, AgentName: "backend-developer", Title: "Implement", Status: domain.TaskCompleted,
				EstimatedHours: 4, Output: []byte(`{"files":2}`), QualityScore: 0.9},
			{ID: id + "-t2", WorkflowID: id, AgentName: domain.AutoAgent, Title: "Review", Status: domain.TaskPending},
		},
		CurrentTaskIndex: 1,
		EstimatedHours:   6,
		Progress:         50,
		LastMilestone:    50,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		wf := sampleWorkflow("wf-1", domain.WorkflowRunning, created)

		require.NoError(t, s.Save(ctx, wf))
		got, err := s.Load(ctx, "wf-1")
		require.NoError(t, err)

		assert.Equal(t, wf.TaskName, got.TaskName)
		assert.Equal(t, domain.PriorityHigh, got.Priority)
		assert.Equal(t, domain.ComplexityComplex, got.Complexity)
		assert.Equal(t, 1, got.CurrentTaskIndex)
		assert.Equal(t, 50, got.LastMilestone)
		assert.True(t, created.Equal(got.CreatedAt))
		require.Len(t, got.Tasks, 2)
		assert.JSONEq(t, `{"files":2}`, string(got.Tasks[0].Output))
		assert.Equal(t, domain.AutoAgent, got.Tasks[1].AgentName)

		// Save overwrites.
		wf.Status = domain.WorkflowCompleted
		require.NoError(t, s.Save(ctx, wf))
		got, err = s.Load(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, domain.WorkflowCompleted, got.Status)
	})
}

func TestStoreNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Load(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, domain.CodeWorkflowNotFound, domain.ErrorCodeOf(err))

		assert.ErrorIs(t, s.Delete(ctx, "missing"), domain.ErrNotFound)
		assert.ErrorIs(t, s.Update(ctx, "missing", domain.WorkflowPatch{}), domain.ErrNotFound)
	})
}

func TestStoreUpdate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		created := time.Now().Add(-time.Hour)
		require.NoError(t, s.Save(ctx, sampleWorkflow("wf-1", domain.WorkflowRunning, created)))

		status := domain.WorkflowFailed
		msg := "quality gate"
		require.NoError(t, s.Update(ctx, "wf-1", domain.WorkflowPatch{Status: &status, Error: &msg}))

		got, err := s.Load(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, domain.WorkflowFailed, got.Status)
		assert.Equal(t, "quality gate", got.Error)
		assert.Equal(t, 50.0, got.Progress, "unpatched fields are kept")
		assert.True(t, got.UpdatedAt.After(created))

		failed, err := s.List(ctx, domain.ListFilter{Status: domain.WorkflowFailed})
		require.NoError(t, err)
		assert.Len(t, failed, 1)
	})
}

func TestStoreConcurrentUpdates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, sampleWorkflow("wf-1", domain.WorkflowRunning, time.Now())))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p := float64(i * 10)
				assert.NoError(t, s.Update(ctx, "wf-1", domain.WorkflowPatch{Progress: &p}))
			}()
		}
		wg.Wait()

		got, err := s.Load(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, domain.WorkflowRunning, got.Status)
		assert.Len(t, got.Tasks, 2)
	})
}

func TestStoreListOrderingAndPaging(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			status := domain.WorkflowCompleted
			if i%2 == 0 {
				status = domain.WorkflowRunning
			}
			require.NoError(t, s.Save(ctx, sampleWorkflow(fmt.Sprintf("wf-%d", i), status, base.Add(time.Duration(i)*time.Hour))))
		}

		all, err := s.List(ctx, domain.ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "wf-4", all[0].ID, "newest first")
		assert.Equal(t, "wf-0", all[4].ID)

		running, err := s.List(ctx, domain.ListFilter{Status: domain.WorkflowRunning})
		require.NoError(t, err)
		assert.Len(t, running, 3)

		page, err := s.List(ctx, domain.ListFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "wf-3", page[0].ID)
		assert.Equal(t, "wf-2", page[1].ID)

		tail, err := s.List(ctx, domain.ListFilter{Offset: 4})
		require.NoError(t, err)
		require.Len(t, tail, 1)

		empty, err := s.List(ctx, domain.ListFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestStoreCleanupOlderThan(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		old := time.Now().Add(-48 * time.Hour)
		fresh := time.Now()

		require.NoError(t, s.Save(ctx, sampleWorkflow("old-done", domain.WorkflowCompleted, old)))
		require.NoError(t, s.Save(ctx, sampleWorkflow("old-failed", domain.WorkflowFailed, old)))
		require.NoError(t, s.Save(ctx, sampleWorkflow("old-running", domain.WorkflowRunning, old)))
		require.NoError(t, s.Save(ctx, sampleWorkflow("new-done", domain.WorkflowCompleted, fresh)))

		n, err := s.CleanupOlderThan(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		left, err := s.List(ctx, domain.ListFilter{})
		require.NoError(t, err)
		ids := make([]string, 0, len(left))
		for _, wf := range left {
			ids = append(ids, wf.ID)
		}
		assert.ElementsMatch(t, []string{"old-running", "new-done"}, ids)
	})
}

func TestStoreDeleteAndHealth(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.HealthCheck(ctx))
		require.NoError(t, s.Save(ctx, sampleWorkflow("wf-1", domain.WorkflowCompleted, time.Now())))
		require.NoError(t, s.Delete(ctx, "wf-1"))
		_, err := s.Load(ctx, "wf-1")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestFileStoreRejectsPathIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, id := range []string{"", "../escape", "a/b", ".."} {
		err := s.Save(context.Background(), &domain.WorkflowExecution{ID: id})
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "id %q", id)
	}
}

func TestFileStoreFailedWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	// A non-empty directory where the workflow file belongs makes the
	// final rename fail.
	blocker := filepath.Join(dir, "wf-1.json")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "keep"), 0o755))

	err = s.Save(context.Background(), sampleWorkflow("wf-1", domain.WorkflowRunning, time.Now()))
	require.Error(t, err)

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	_, err = s.List(context.Background(), domain.ListFilter{})
	assert.NoError(t, err)
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentroute.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleWorkflow("wf-1", domain.WorkflowRunning, time.Now())))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.ID)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	fs, err := Open(config.StorageConfig{Backend: "file", Dir: filepath.Join(dir, "wf")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, fs)

	ss, err := Open(config.StorageConfig{Backend: "sqlite", Path: filepath.Join(dir, "db.sqlite")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, ss)
	require.NoError(t, ss.Close())

	_, err = Open(config.StorageConfig{Backend: "redis"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
