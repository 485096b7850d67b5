package analysis

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"agentroute/internal/domain"
)

// DefaultMaxSuggestions bounds the number of required agents per analysis.
const DefaultMaxSuggestions = 3

// TaskAnalyzer derives complexity, priority, effort, risks and success
// criteria from task text. It holds no mutable state.
type TaskAnalyzer struct {
	suggester      domain.CapabilitySuggester
	maxSuggestions int
	logger         *slog.Logger
}

// NewTaskAnalyzer creates an analyzer. suggester may be nil, in which case
// analyses carry no required agents.
func NewTaskAnalyzer(suggester domain.CapabilitySuggester, logger *slog.Logger) *TaskAnalyzer {
	if logger == nil {
		logger = discardLogger()
	}
	return &TaskAnalyzer{
		suggester:      suggester,
		maxSuggestions: DefaultMaxSuggestions,
		logger:         logger,
	}
}

// Analyze classifies a task. A blank title is a ValidationError.
func (a *TaskAnalyzer) Analyze(ctx context.Context, title, description string) (*domain.TaskAnalysis, error) {
	if strings.TrimSpace(title) == "" {
		return nil, &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}

	text := normalize(title, description)
	complexity := firstMatch(complexityRules, text, domain.ComplexityModerate)

	analysis := &domain.TaskAnalysis{
		Title:           title,
		Description:     description,
		Complexity:      complexity,
		Priority:        firstMatch(priorityRules, text, domain.PriorityMedium),
		EffortHours:     effortHours[complexity],
		RiskFactors:     riskFactors(text),
		SuccessCriteria: successCriteria(text),
	}

	if a.suggester != nil {
		suggestions, err := a.suggester.Suggest(ctx, strings.TrimSpace(title+" "+description), a.maxSuggestions)
		if err != nil {
			// Suggestions are advisory; the analysis stands without them.
			a.logger.Warn("capability suggestion failed", "title", title, "error", err)
		} else {
			analysis.RequiredAgents = suggestions
		}
	}

	a.logger.Debug("task analyzed",
		"title", title,
		"complexity", analysis.Complexity.String(),
		"priority", analysis.Priority.String(),
		"risks", len(analysis.RiskFactors),
	)
	return analysis, nil
}

// Complexity classifies only the complexity of a task.
func (a *TaskAnalyzer) Complexity(title, description string) domain.Complexity {
	return firstMatch(complexityRules, normalize(title, description), domain.ComplexityModerate)
}

// Priority classifies only the priority of a task.
func (a *TaskAnalyzer) Priority(title, description string) domain.Priority {
	return firstMatch(priorityRules, normalize(title, description), domain.PriorityMedium)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func normalize(title, description string) string {
	return strings.ToLower(title + " " + description)
}

func riskFactors(text string) []string {
	risks := []string{}
	for _, p := range riskPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(text, kw) {
				risks = append(risks, p.risk)
				break
			}
		}
	}
	return risks
}

func successCriteria(text string) []string {
	criteria := append([]string(nil), baselineCriteria...)
	for _, r := range criteriaRules {
		if strings.Contains(text, r.keyword) {
			criteria = append(criteria, r.criterion)
		}
	}
	return criteria
}
