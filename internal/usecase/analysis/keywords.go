// Package analysis classifies task text and turns it into executable plans.
package analysis

import (
	"strings"

	"agentroute/internal/domain"
)

// rule maps a classification value to the substrings that select it.
type rule[T any] struct {
	value    T
	keywords []string
}

// firstMatch returns the value of the first rule with a keyword contained in text.
// text must already be lower-cased.
func firstMatch[T any](rules []rule[T], text string, fallback T) T {
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.value
			}
		}
	}
	return fallback
}

// Ordered EPIC first: scope words outrank the structural keywords below them.
var complexityRules = []rule[domain.Complexity]{
	{domain.ComplexityEpic, []string{
		"entire platform", "full platform", "entire system", "complete system",
		"from scratch", "rewrite", "overhaul", "end-to-end", "multi-team",
	}},
	{domain.ComplexityComplex, []string{
		"architecture", "migrate", "migration", "redesign", "refactor",
		"distributed", "integration", "scalab", "microservice", "infrastructure",
	}},
	{domain.ComplexityModerate, []string{
		"feature", "implement", "endpoint", "api", "enhance", "update", "component",
	}},
	{domain.ComplexitySimple, []string{
		"typo", "rename", "small", "minor", "tweak", "formatting", "comment", "bump",
	}},
}

var priorityRules = []rule[domain.Priority]{
	{domain.PriorityUrgent, []string{
		"urgent", "critical", "asap", "emergency", "immediately", "production down", "outage", "blocker",
	}},
	{domain.PriorityHigh, []string{
		"high priority", "important", "soon", "deadline", "customer-facing", "regression",
	}},
	{domain.PriorityMedium, []string{
		"medium priority", "normal", "should",
	}},
	{domain.PriorityLow, []string{
		"low priority", "nice to have", "eventually", "someday", "when possible", "backlog",
	}},
}

var effortHours = map[domain.Complexity]float64{
	domain.ComplexitySimple:   2,
	domain.ComplexityModerate: 8,
	domain.ComplexityComplex:  32,
	domain.ComplexityEpic:     80,
}

type riskPattern struct {
	keywords []string
	risk     string
}

var riskPatterns = []riskPattern{
	{[]string{"legacy"}, "Legacy system involvement may hide undocumented behavior"},
	{[]string{"migration", "migrate"}, "Data migration can cause loss or downtime"},
	{[]string{"security", "auth", "permission"}, "Security-sensitive change requires review"},
	{[]string{"performance", "latency", "throughput"}, "Performance requirements may not be met"},
	{[]string{"integration", "third-party", "external api"}, "External integration dependencies"},
	{[]string{"database", "schema"}, "Database schema changes affect existing data"},
	{[]string{"production", "live"}, "Direct production impact"},
	{[]string{"concurren", "race", "parallel"}, "Concurrency defects are hard to reproduce"},
}

var baselineCriteria = []string{
	"All stated requirements are implemented",
	"Changes are reviewed and approved",
}

type criterionRule struct {
	keyword   string
	criterion string
}

var criteriaRules = []criterionRule{
	{"test", "All tests pass with adequate coverage"},
	{"deploy", "Deployment succeeds in the target environment"},
	{"performance", "Performance benchmarks meet targets"},
	{"security", "Security review finds no open issues"},
	{"ui", "UI matches the agreed design"},
	{"api", "API contract is documented and validated"},
}
