package routing

import (
	"slices"
	"strings"

	"agentroute/internal/domain"
)

// TaskType is the coarse category of a task used for contextual routing.
type TaskType string

const (
	TaskBugFix         TaskType = "bug_fix"
	TaskNewFeature     TaskType = "new_feature"
	TaskInfrastructure TaskType = "infrastructure"
	TaskDataAnalysis   TaskType = "data_analysis"
	TaskSecurityReview TaskType = "security_review"
	TaskGeneral        TaskType = "general"
)

type taskTypeRule struct {
	taskType TaskType
	keywords []string
}

// Checked in order; the first rule with a matching keyword wins.
var taskTypeRules = []taskTypeRule{
	{TaskSecurityReview, []string{"security", "vulnerab", "audit", "cve", "pentest", "exploit"}},
	{TaskBugFix, []string{"bug", "fix", "error", "crash", "broken", "regression"}},
	{TaskInfrastructure, []string{"deploy", "infrastructure", "kubernetes", "docker", "terraform", "ci/cd", "pipeline"}},
	{TaskDataAnalysis, []string{"data", "analytics", "report", "dashboard", "metrics", "analysis"}},
	{TaskNewFeature, []string{"feature", "implement", "add ", "build", "create", "new "}},
}

var urgencyIndicators = []string{
	"urgent", "asap", "critical", "immediately", "emergency", "blocker", "hotfix", "outage", "production down",
}

// Insights are the contextual signals extracted from task text.
type Insights struct {
	TaskType TaskType `json:"task_type"`
	Urgency  []string `json:"urgency_indicators,omitempty"`
}

// HasUrgency reports whether any urgency indicator was found.
func (i Insights) HasUrgency() bool { return len(i.Urgency) > 0 }

// DefaultPreferredAgents maps task types to agents that usually handle them.
func DefaultPreferredAgents() map[TaskType][]string {
	return map[TaskType][]string{
		TaskBugFix:         {"debugger", "backend-developer", "test-engineer"},
		TaskNewFeature:     {"backend-developer", "frontend-developer", "fullstack-developer"},
		TaskInfrastructure: {"devops-engineer", "cloud-architect"},
		TaskDataAnalysis:   {"data-scientist", "data-engineer"},
		TaskSecurityReview: {"security-auditor", "code-reviewer"},
	}
}

// DefaultAffinity maps an agent to agents that work well as its successors.
func DefaultAffinity() map[string][]string {
	return map[string][]string{
		"backend-developer":  {"frontend-developer", "test-engineer", "database-architect"},
		"frontend-developer": {"backend-developer", "ui-designer", "test-engineer"},
		"debugger":           {"test-engineer", "backend-developer"},
		"test-engineer":      {"code-reviewer", "debugger"},
		"cloud-architect":    {"devops-engineer", "security-auditor"},
		"devops-engineer":    {"cloud-architect", "security-auditor"},
		"data-engineer":      {"data-scientist"},
		"data-scientist":     {"data-engineer"},
		"security-auditor":   {"code-reviewer", "devops-engineer"},
	}
}

// ContextAnalyzer classifies task text and scores agents on contextual fit.
type ContextAnalyzer struct {
	preferred map[TaskType][]string
	affinity  map[string][]string
}

// NewContextAnalyzer creates an analyzer. Nil tables fall back to the defaults.
func NewContextAnalyzer(preferred map[TaskType][]string, affinity map[string][]string) *ContextAnalyzer {
	if preferred == nil {
		preferred = DefaultPreferredAgents()
	}
	if affinity == nil {
		affinity = DefaultAffinity()
	}
	return &ContextAnalyzer{preferred: preferred, affinity: affinity}
}

// Insights extracts the task type and urgency indicators from text.
func (c *ContextAnalyzer) Insights(title, description string) Insights {
	text := strings.ToLower(title + " " + description + " ")

	ins := Insights{TaskType: TaskGeneral}
	for _, r := range taskTypeRules {
		if containsAny(text, r.keywords) {
			ins.TaskType = r.taskType
			break
		}
	}
	for _, u := range urgencyIndicators {
		if strings.Contains(text, u) {
			ins.Urgency = append(ins.Urgency, u)
		}
	}
	return ins
}

// Score returns the contextual fit of an agent in [0,1], starting from 0.5.
func (c *ContextAnalyzer) Score(agent string, rc domain.RoutingContext, ins Insights) float64 {
	score := 0.5

	if slices.Contains(c.preferred[ins.TaskType], agent) {
		score += 0.3
	}
	if rc.PreviousAgent != "" && slices.Contains(c.affinity[rc.PreviousAgent], agent) {
		score += 0.2
	}
	if pref, ok := rc.UserPreferences[agent]; ok {
		score += (clamp01(pref) - 0.5) * 0.2
	}
	if ins.HasUrgency() && rc.Priority >= domain.PriorityHigh {
		score += 0.1
	}
	return clamp01(score)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
