package executor

import (
	"context"
	"encoding/json"
	"time"

	"agentroute/internal/domain"
)

// DryRun completes every phase without contacting an agent. It reports the
// estimated hours as actual hours and a fixed quality score.
type DryRun struct {
	Quality float64
	Delay   time.Duration
}

// NewDryRun returns a DryRun reporting a perfect quality score.
func NewDryRun() *DryRun {
	return &DryRun{Quality: 1}
}

// Execute implements domain.AgentExecutor.
func (d *DryRun) Execute(ctx context.Context, task domain.AgentTask) (*domain.PhaseResult, error) {
	if d.Delay > 0 {
		t := time.NewTimer(d.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out, err := json.Marshal(map[string]any{
		"dry_run": true,
		"agent":   task.AgentName,
		"task":    task.Title,
	})
	if err != nil {
		return nil, err
	}
	return &domain.PhaseResult{
		Output:       out,
		QualityScore: d.Quality,
		ActualHours:  task.EstimatedHours,
	}, nil
}

var _ domain.AgentExecutor = (*DryRun)(nil)
