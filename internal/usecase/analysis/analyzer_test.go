package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentroute/internal/domain"
)

type mockSuggester struct {
	suggestions []domain.AgentSuggestion
	err         error
	gotText     string
	gotMax      int
}

func (m *mockSuggester) Suggest(_ context.Context, text string, maxResults int) ([]domain.AgentSuggestion, error) {
	m.gotText = text
	m.gotMax = maxResults
	return m.suggestions, m.err
}

func TestAnalyze_EmptyTitleIsValidationError(t *testing.T) {
	a := NewTaskAnalyzer(nil, nil)
	for _, title := range []string{"", "   ", "\t\n"} {
		_, err := a.Analyze(context.Background(), title, "something")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrValidation), "title %q", title)

		var ve *domain.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "title", ve.Field)
	}
}

func TestComplexity(t *testing.T) {
	a := NewTaskAnalyzer(nil, nil)
	tests := []struct {
		title, desc string
		want        domain.Complexity
	}{
		{"Redesign the full platform architecture", "complete migration", domain.ComplexityEpic},
		{"Plan database migration", "", domain.ComplexityComplex},
		{"Implement export endpoint", "", domain.ComplexityModerate},
		{"Fix typo on landing page", "", domain.ComplexitySimple},
		{"Investigate", "nothing matches here", domain.ComplexityModerate},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Complexity(tt.title, tt.desc))
		})
	}
}

func TestComplexity_ArchitectureAndMigrationNeverSimple(t *testing.T) {
	a := NewTaskAnalyzer(nil, nil)
	got := a.Complexity("Redesign the full platform architecture", "complete migration")
	assert.Contains(t, []domain.Complexity{domain.ComplexityComplex, domain.ComplexityEpic}, got)

	// Structural keywords outrank simple ones regardless of position.
	got = a.Complexity("small tweak", "needs a schema migration")
	assert.Equal(t, domain.ComplexityComplex, got)
}

func TestPriority(t *testing.T) {
	a := NewTaskAnalyzer(nil, nil)
	assert.Equal(t, domain.PriorityUrgent, a.Priority("Production down", "checkout fails"))
	assert.Equal(t, domain.PriorityHigh, a.Priority("Important: release notes", ""))
	assert.Equal(t, domain.PriorityLow, a.Priority("Dark mode", "nice to have"))
	assert.Equal(t, domain.PriorityMedium, a.Priority("Add avatar upload", ""))
	// URGENT keywords win over LOW keywords in the same text.
	assert.Equal(t, domain.PriorityUrgent, a.Priority("low priority cleanup", "actually critical"))
}

func TestAnalyze_EffortRisksAndCriteria(t *testing.T) {
	a := NewTaskAnalyzer(nil, nil)
	got, err := a.Analyze(context.Background(),
		"Migrate legacy billing API",
		"security and performance testing before deploy")
	require.NoError(t, err)

	assert.Equal(t, domain.ComplexityComplex, got.Complexity)
	assert.Equal(t, 32.0, got.EffortHours)
	assert.Len(t, got.RiskFactors, 4) // legacy, migration, security, performance
	assert.Equal(t, baselineCriteria, got.SuccessCriteria[:2])
	// test, deploy, performance, security, api
	assert.Len(t, got.SuccessCriteria, 7)
	assert.Empty(t, got.RequiredAgents)
}

func TestAnalyze_EffortTable(t *testing.T) {
	want := map[domain.Complexity]float64{
		domain.ComplexitySimple:   2,
		domain.ComplexityModerate: 8,
		domain.ComplexityComplex:  32,
		domain.ComplexityEpic:     80,
	}
	assert.Equal(t, want, effortHours)
}

func TestAnalyze_NoRisksYieldsEmptySlice(t *testing.T) {
	a := NewTaskAnalyzer(nil, nil)
	got, err := a.Analyze(context.Background(), "Add avatar upload", "")
	require.NoError(t, err)
	assert.NotNil(t, got.RiskFactors)
	assert.Empty(t, got.RiskFactors)
	assert.Len(t, got.SuccessCriteria, 2)
}

func TestAnalyze_DelegatesToSuggester(t *testing.T) {
	s := &mockSuggester{suggestions: []domain.AgentSuggestion{
		{Agent: "backend-developer", Confidence: 80, MatchedKeywords: []string{"api"}},
	}}
	a := NewTaskAnalyzer(s, nil)

	got, err := a.Analyze(context.Background(), "Build API", "for invoices")
	require.NoError(t, err)
	assert.Equal(t, "Build API for invoices", s.gotText)
	assert.Equal(t, DefaultMaxSuggestions, s.gotMax)
	require.Len(t, got.RequiredAgents, 1)
	assert.Equal(t, "backend-developer", got.RequiredAgents[0].Agent)
}

func TestAnalyze_SuggesterErrorIsNotFatal(t *testing.T) {
	a := NewTaskAnalyzer(&mockSuggester{err: errors.New("index offline")}, nil)
	got, err := a.Analyze(context.Background(), "Build API", "")
	require.NoError(t, err)
	assert.Empty(t, got.RequiredAgents)
}
