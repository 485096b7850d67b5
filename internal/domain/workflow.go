package domain

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// WorkflowStatus is the lifecycle state of a WorkflowExecution.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// TaskStatus is the lifecycle state of one AgentTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// AgentTask is one phase instance of a workflow, bound to exactly one agent.
type AgentTask struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	AgentName      string          `json:"agent_name"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	EstimatedHours float64         `json:"estimated_hours"`
	ActualHours    float64         `json:"actual_hours"`
	Status         TaskStatus      `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	QualityScore   float64         `json:"quality_score"`
	BusinessValue  float64         `json:"business_value"`
	Error          string          `json:"error,omitempty"`
}

// WorkflowExecution is the stateful execution of a plan.
// It is mutated only by the orchestrator.
type WorkflowExecution struct {
	ID               string         `json:"id"`
	TaskName         string         `json:"task_name"`
	Description      string         `json:"description,omitempty"`
	Status           WorkflowStatus `json:"status"`
	Priority         Priority       `json:"priority"`
	Complexity       Complexity     `json:"complexity"`
	Tasks            []AgentTask    `json:"tasks"`
	CurrentTaskIndex int            `json:"current_task_index"`
	EstimatedHours   float64        `json:"estimated_hours"`
	ActualHours      float64        `json:"actual_hours"`
	Progress         float64        `json:"progress"`
	LastMilestone    int            `json:"last_milestone"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// CurrentTask returns the task at CurrentTaskIndex, or nil past the end.
func (w *WorkflowExecution) CurrentTask() *AgentTask {
	if w.CurrentTaskIndex < 0 || w.CurrentTaskIndex >= len(w.Tasks) {
		return nil
	}
	return &w.Tasks[w.CurrentTaskIndex]
}

// CompletedTasks counts tasks in the completed state.
func (w *WorkflowExecution) CompletedTasks() int {
	n := 0
	for _, t := range w.Tasks {
		if t.Status == TaskCompleted {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand to other goroutines.
func (w *WorkflowExecution) Clone() *WorkflowExecution {
	cp := *w
	cp.Tasks = make([]AgentTask, len(w.Tasks))
	for i, t := range w.Tasks {
		if t.Output != nil {
			t.Output = append(json.RawMessage(nil), t.Output...)
		}
		cp.Tasks[i] = t
	}
	return &cp
}

// QualityGate is a static threshold check applied to matching phases.
type QualityGate struct {
	Name                string  `json:"name"                 yaml:"name"`
	Threshold           float64 `json:"threshold"            yaml:"threshold"`
	EvaluatorCapability string  `json:"evaluator_capability" yaml:"evaluator_capability"`
	Blocking            bool    `json:"blocking"             yaml:"blocking"`
}

// Matches reports whether the gate applies to a phase. Separators in the gate
// name ("code_review", "code-review") match spaces in the phase text.
func (g QualityGate) Matches(title, description string) bool {
	name := normalizeGateText(g.Name)
	if name == "" {
		return false
	}
	return strings.Contains(normalizeGateText(title), name) ||
		strings.Contains(normalizeGateText(description), name)
}

func normalizeGateText(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// PhaseResult is what the execution port reports for a finished phase.
type PhaseResult struct {
	Output        json.RawMessage `json:"output,omitempty"`
	QualityScore  float64         `json:"quality_score"`
	ActualHours   float64         `json:"actual_hours,omitempty"`
	BusinessValue float64         `json:"business_value,omitempty"`
}

// WorkflowPatch is a partial update. Nil fields are left unchanged.
type WorkflowPatch struct {
	Status           *WorkflowStatus `json:"status,omitempty"`
	CurrentTaskIndex *int            `json:"current_task_index,omitempty"`
	Progress         *float64        `json:"progress,omitempty"`
	LastMilestone    *int            `json:"last_milestone,omitempty"`
	ActualHours      *float64        `json:"actual_hours,omitempty"`
	Error            *string         `json:"error,omitempty"`
}

// Apply writes the non-nil patch fields onto w.
func (p WorkflowPatch) Apply(w *WorkflowExecution) {
	if p.Status != nil {
		w.Status = *p.Status
	}
	if p.CurrentTaskIndex != nil {
		w.CurrentTaskIndex = *p.CurrentTaskIndex
	}
	if p.Progress != nil {
		w.Progress = *p.Progress
	}
	if p.LastMilestone != nil {
		w.LastMilestone = *p.LastMilestone
	}
	if p.ActualHours != nil {
		w.ActualHours = *p.ActualHours
	}
	if p.Error != nil {
		w.Error = *p.Error
	}
}

// ListFilter selects workflows from storage. Zero values mean "any" / "no limit".
type ListFilter struct {
	Status WorkflowStatus
	Limit  int
	Offset int
}

// WorkflowStore persists workflow executions. All writes are atomic.
type WorkflowStore interface {
	Save(ctx context.Context, wf *WorkflowExecution) error
	Load(ctx context.Context, id string) (*WorkflowExecution, error)
	Update(ctx context.Context, id string, patch WorkflowPatch) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]WorkflowExecution, error)
	// CleanupOlderThan removes terminal workflows last updated before now-age.
	CleanupOlderThan(ctx context.Context, age time.Duration) (int, error)
	HealthCheck(ctx context.Context) error
}
