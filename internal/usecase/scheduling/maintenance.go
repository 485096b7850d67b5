package scheduling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"agentroute/internal/domain"
	"agentroute/internal/infra/config"
)

// Resumer is the orchestrator surface needed to retry deferred workflows.
type Resumer interface {
	List(ctx context.Context, filter domain.ListFilter) ([]domain.WorkflowExecution, error)
	Run(ctx context.Context, id string) (*domain.WorkflowExecution, error)
	Active(id string) bool
}

// Maintenance implements the built-in maintenance actions.
type Maintenance struct {
	store     domain.WorkflowStore
	workflows Resumer
	retention time.Duration
	logger    *slog.Logger
}

// NewMaintenance creates the maintenance actions. workflows may be nil, in
// which case deferred workflows are never resumed.
func NewMaintenance(store domain.WorkflowStore, workflows Resumer, retention time.Duration, logger *slog.Logger) *Maintenance {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Maintenance{store: store, workflows: workflows, retention: retention, logger: logger}
}

// Cleanup removes terminal workflows older than the retention period.
// A zero retention keeps everything.
func (m *Maintenance) Cleanup(ctx context.Context) error {
	if m.retention <= 0 {
		return nil
	}
	n, err := m.store.CleanupOlderThan(ctx, m.retention)
	if err != nil {
		return domain.WrapOp("retention cleanup", err)
	}
	if n > 0 {
		m.logger.Info("expired workflows removed", "count", n, "retention", m.retention)
	}
	return nil
}

// Health probes the store.
func (m *Maintenance) Health(ctx context.Context) error {
	if err := m.store.HealthCheck(ctx); err != nil {
		m.logger.Error("workflow store unhealthy", "error", err)
		return domain.WrapOp("store health", err)
	}
	return nil
}

// ResumeDeferred re-runs RUNNING workflows that nobody is driving, which is
// where a workflow rests after its phase agent was busy or unroutable.
// Retryable outcomes leave the workflow for the next tick.
func (m *Maintenance) ResumeDeferred(ctx context.Context) error {
	if m.workflows == nil {
		return nil
	}
	wfs, err := m.workflows.List(ctx, domain.ListFilter{Status: domain.WorkflowRunning})
	if err != nil {
		return domain.WrapOp("resume deferred", err)
	}

	var errs []error
	for _, wf := range wfs {
		if ctx.Err() != nil {
			break
		}
		if m.workflows.Active(wf.ID) {
			continue
		}
		got, err := m.workflows.Run(ctx, wf.ID)
		switch {
		case err == nil:
			m.logger.Info("deferred workflow resumed", "workflow_id", wf.ID, "status", got.Status)
		case domain.IsRetryableError(err):
			m.logger.Debug("workflow still deferred", "workflow_id", wf.ID, "code", domain.ErrorCodeOf(err))
		case errors.Is(err, domain.ErrInvalidTransition):
		default:
			errs = append(errs, fmt.Errorf("workflow %s: %w", wf.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Setup registers the maintenance actions on s and schedules the jobs
// configured in cfg. Empty schedules are skipped.
func Setup(s *Scheduler, cfg config.SchedulerConfig, m *Maintenance) error {
	s.RegisterAction(ActionRetentionCleanup, m.Cleanup)
	s.RegisterAction(ActionStoreHealth, m.Health)
	s.RegisterAction(ActionResumeDeferred, m.ResumeDeferred)

	jobs := []Job{
		{Name: "retention-cleanup", Schedule: cfg.CleanupSchedule, Action: ActionRetentionCleanup},
		{Name: "store-health", Schedule: cfg.HealthSchedule, Action: ActionStoreHealth},
		{Name: "resume-deferred", Schedule: cfg.ResumeSchedule, Action: ActionResumeDeferred},
	}
	for _, job := range jobs {
		if job.Schedule == "" {
			continue
		}
		if err := s.AddJob(job); err != nil {
			return err
		}
	}
	return nil
}
