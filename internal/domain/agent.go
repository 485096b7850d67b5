package domain

import "context"

// Agent is a named worker with a capability profile and finite concurrent capacity.
type Agent struct {
	Name             string   `json:"name"                yaml:"name"`
	Description      string   `json:"description,omitempty" yaml:"description,omitempty"`
	Capabilities     []string `json:"capabilities"        yaml:"capabilities"`
	MaxConcurrent    int      `json:"max_concurrent"      yaml:"max_concurrent"`
	CurrentWorkload  int      `json:"current_workload"    yaml:"-"`
	AvgResponseHours float64  `json:"avg_response_hours"  yaml:"avg_response_hours"`
	SuccessRate      float64  `json:"success_rate"        yaml:"success_rate"`
	Offline          bool     `json:"offline,omitempty"   yaml:"offline,omitempty"`
	CompletedTasks   int      `json:"completed_tasks"     yaml:"-"`
	FailedTasks      int      `json:"failed_tasks"        yaml:"-"`
}

// Available reports whether the agent can accept one more task.
func (a Agent) Available() bool {
	return !a.Offline && a.CurrentWorkload < a.MaxConcurrent
}

// Utilization returns current workload as a fraction of capacity.
// An agent without capacity is treated as fully utilized.
func (a Agent) Utilization() float64 {
	if a.MaxConcurrent <= 0 {
		return 1
	}
	return float64(a.CurrentWorkload) / float64(a.MaxConcurrent)
}

// AgentSuggestion is an upstream capability match for a piece of task text.
type AgentSuggestion struct {
	Agent           string   `json:"agent"`
	Confidence      float64  `json:"confidence"` // 0-100
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
}

// Candidate pairs an agent snapshot with its capability suggestion.
type Candidate struct {
	Agent      Agent           `json:"agent"`
	Suggestion AgentSuggestion `json:"suggestion"`
}

// CapabilitySuggester ranks agents by how well their capabilities match free text.
type CapabilitySuggester interface {
	Suggest(ctx context.Context, text string, maxResults int) ([]AgentSuggestion, error)
}

// AgentDirectory is the source of truth for agent profiles and workload counters.
// Workload and outcome mutations are serialized per agent.
type AgentDirectory interface {
	Get(ctx context.Context, name string) (*Agent, error)
	List(ctx context.Context) ([]Agent, error)
	// AdjustWorkload applies delta to the agent's workload. A positive delta that would
	// exceed capacity, or any positive delta on an offline agent, returns AgentUnavailable.
	AdjustWorkload(ctx context.Context, name string, delta int) error
	RecordOutcome(ctx context.Context, name string, success bool, hours float64) error
}

// AgentExecutor runs a single workflow phase on its assigned agent.
type AgentExecutor interface {
	Execute(ctx context.Context, task AgentTask) (*PhaseResult, error)
}
