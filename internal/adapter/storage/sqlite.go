package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"agentroute/internal/domain"
)

// migrations are applied in order; PRAGMA user_version records progress.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id         TEXT PRIMARY KEY,
		task_name  TEXT NOT NULL,
		status     TEXT NOT NULL,
		data       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status, updated_at)`,
}

// SQLiteStore implements domain.WorkflowStore on SQLite. The full execution
// is stored as JSON; status and timestamps are duplicated into columns for
// filtering and retention.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open workflow db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate workflow db: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, wf *domain.WorkflowExecution) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, task_name, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_name = excluded.task_name,
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		wf.ID, wf.TaskName, string(wf.Status), string(data),
		wf.CreatedAt.UnixNano(), wf.UpdatedAt.UnixNano(),
	)
	return domain.WrapOp("workflowstore: save", err)
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*domain.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM workflows WHERE id = ?", id)
	return scanWorkflow(row, id)
}

// Update applies patch inside a transaction so concurrent patches never
// interleave their read and write.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch domain.WorkflowPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapOp("workflowstore: update", err)
	}
	defer tx.Rollback()

	wf, err := scanWorkflow(tx.QueryRowContext(ctx, "SELECT data FROM workflows WHERE id = ?", id), id)
	if err != nil {
		return err
	}
	patch.Apply(wf)
	wf.UpdatedAt = s.now()

	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE workflows SET status = ?, data = ?, updated_at = ? WHERE id = ?",
		string(wf.Status), string(data), wf.UpdatedAt.UnixNano(), id,
	); err != nil {
		return domain.WrapOp("workflowstore: update", err)
	}
	return domain.WrapOp("workflowstore: update", tx.Commit())
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return domain.WrapOp("workflowstore: delete", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return notFound("SQLiteStore.Delete", id)
	}
	return nil
}

// List returns matching workflows, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter domain.ListFilter) ([]domain.WorkflowExecution, error) {
	query := "SELECT id, data FROM workflows"
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapOp("workflowstore: list", err)
	}
	defer rows.Close()

	out := []domain.WorkflowExecution{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var wf domain.WorkflowExecution
		if err := json.Unmarshal([]byte(data), &wf); err != nil {
			return nil, fmt.Errorf("unmarshal workflow %s: %w", id, err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// CleanupOlderThan deletes terminal workflows not updated within age.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age).UnixNano()
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM workflows WHERE status IN (?, ?, ?) AND updated_at < ?",
		string(domain.WorkflowCompleted), string(domain.WorkflowFailed), string(domain.WorkflowCancelled), cutoff,
	)
	if err != nil {
		return 0, domain.WrapOp("workflowstore: cleanup", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("workflowstore: health: %w: %w", domain.ErrStorage, err)
	}
	return nil
}

func scanWorkflow(row *sql.Row, id string) (*domain.WorkflowExecution, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("SQLiteStore.Load", id)
		}
		return nil, domain.WrapOp("workflowstore: load", err)
	}
	var wf domain.WorkflowExecution
	if err := json.Unmarshal([]byte(data), &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %w", id, err)
	}
	return &wf, nil
}

var _ domain.WorkflowStore = (*SQLiteStore)(nil)
