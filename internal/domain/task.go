package domain

import "strings"

// TaskAnalysis is the heuristic classification of a task's free text.
type TaskAnalysis struct {
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Complexity      Complexity        `json:"complexity"`
	Priority        Priority          `json:"priority"`
	EffortHours     float64           `json:"effort_hours"`
	RiskFactors     []string          `json:"risk_factors"`
	SuccessCriteria []string          `json:"success_criteria"`
	RequiredAgents  []AgentSuggestion `json:"required_agents,omitempty"`
}

// RoutingContext derives the routing input for this analysis.
func (a TaskAnalysis) RoutingContext() RoutingContext {
	return RoutingContext{
		Title:          a.Title,
		Description:    a.Description,
		Priority:       a.Priority,
		Complexity:     a.Complexity,
		EstimatedHours: a.EffortHours,
	}
}

// TemplatePhase is one step of a workflow template. Agent may be AutoAgent.
type TemplatePhase struct {
	Name        string  `json:"name"                  yaml:"name"`
	Agent       string  `json:"agent"                 yaml:"agent"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Hours       float64 `json:"hours"                 yaml:"hours"`
}

// AutoAgent marks a template phase whose agent is resolved at plan time.
const AutoAgent = "auto"

// IsAutoAgent reports whether name leaves the agent choice to routing: empty
// or "auto" in any case.
func IsAutoAgent(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || strings.EqualFold(name, AutoAgent)
}

// WorkflowTemplate is a named, ordered phase list for a class of tasks.
type WorkflowTemplate struct {
	Name        string          `json:"name"                  yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Keywords    []string        `json:"keywords,omitempty"    yaml:"keywords,omitempty"`
	Phases      []TemplatePhase `json:"phases"                yaml:"phases"`
}

// PlanPhase is one phase of an externally supplied execution plan.
type PlanPhase struct {
	Name           string  `json:"name"                  yaml:"name"`
	Agent          string  `json:"agent,omitempty"       yaml:"agent,omitempty"`
	Description    string  `json:"description,omitempty" yaml:"description,omitempty"`
	EstimatedHours float64 `json:"estimated_hours"       yaml:"estimated_hours"`
}

// Plan is the input from which the orchestrator builds a WorkflowExecution.
type Plan struct {
	Title       string      `json:"title"                 yaml:"title"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Template    string      `json:"template,omitempty"    yaml:"template,omitempty"`
	Priority    Priority    `json:"priority,omitempty"    yaml:"priority,omitempty"`
	Complexity  Complexity  `json:"complexity,omitempty"  yaml:"complexity,omitempty"`
	Phases      []PlanPhase `json:"phases"                yaml:"phases"`
}

// TotalHours sums the phase estimates.
func (p Plan) TotalHours() float64 {
	var total float64
	for _, ph := range p.Phases {
		total += ph.EstimatedHours
	}
	return total
}

// SubTask is one node of a decomposed plan. DependsOn holds at most the
// immediately preceding sub-task; decomposition never produces a general DAG.
type SubTask struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Agent          string   `json:"agent"`
	EstimatedHours float64  `json:"estimated_hours"`
	DependsOn      []string `json:"depends_on,omitempty"`
}
