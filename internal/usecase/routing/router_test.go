package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentroute/internal/domain"
	"agentroute/internal/usecase/directory"
)

type stubSuggester struct {
	suggestions []domain.AgentSuggestion
	err         error
	calls       int
}

func (s *stubSuggester) Suggest(_ context.Context, _ string, maxResults int) ([]domain.AgentSuggestion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.suggestions) > maxResults {
		return s.suggestions[:maxResults], nil
	}
	return s.suggestions, nil
}

func newTestDirectory(t *testing.T, agents ...domain.Agent) *directory.Directory {
	t.Helper()
	d, err := directory.New(nil, agents...)
	require.NoError(t, err)
	return d
}

func TestRouter_RouteJoinsSuggestionsWithDirectory(t *testing.T) {
	dir := newTestDirectory(t,
		domain.Agent{Name: "backend-developer", MaxConcurrent: 2},
		domain.Agent{Name: "frontend-developer", MaxConcurrent: 2},
	)
	sug := &stubSuggester{suggestions: []domain.AgentSuggestion{
		{Agent: "ghost", Confidence: 99},
		{Agent: "backend-developer", Confidence: 80},
		{Agent: "frontend-developer", Confidence: 30},
	}}
	r := NewRouter(dir, sug)

	decision, err := r.Route(context.Background(), domain.StrategyBestMatch, domain.RoutingContext{Title: "Build API"})
	require.NoError(t, err)
	assert.Equal(t, "backend-developer", decision.Agent)
	assert.Equal(t, domain.StrategyBestMatch, decision.Score.Strategy)
	assert.Equal(t, 1, sug.calls)
}

func TestRouter_FiltersUnavailable(t *testing.T) {
	dir := newTestDirectory(t,
		domain.Agent{Name: "full", MaxConcurrent: 1, CurrentWorkload: 1},
		domain.Agent{Name: "away", MaxConcurrent: 3, Offline: true},
		domain.Agent{Name: "open", MaxConcurrent: 3},
	)
	r := NewRouter(dir, &stubSuggester{suggestions: []domain.AgentSuggestion{
		{Agent: "full", Confidence: 100},
		{Agent: "away", Confidence: 95},
		{Agent: "open", Confidence: 10},
	}})

	decision, err := r.Route(context.Background(), domain.StrategyBestMatch, domain.RoutingContext{})
	require.NoError(t, err)
	assert.Equal(t, "open", decision.Agent)
}

func TestRouter_NoAgentAvailable(t *testing.T) {
	dir := newTestDirectory(t, domain.Agent{Name: "full", MaxConcurrent: 1, CurrentWorkload: 1})
	r := NewRouter(dir, &stubSuggester{suggestions: []domain.AgentSuggestion{{Agent: "full", Confidence: 100}}})

	for _, kind := range domain.Strategies {
		t.Run(string(kind), func(t *testing.T) {
			_, err := r.Route(context.Background(), kind, domain.RoutingContext{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrNoAgentAvailable))
			assert.Equal(t, domain.CodeNoAgentAvailable, domain.ErrorCodeOf(err))
		})
	}
}

func TestRouter_UnknownStrategy(t *testing.T) {
	r := NewRouter(newTestDirectory(t), nil)
	_, err := r.RouteCandidates("fastest", nil, domain.RoutingContext{})
	assert.True(t, errors.Is(err, domain.ErrUnknownStrategy))
}

func TestRouter_SuggesterError(t *testing.T) {
	r := NewRouter(newTestDirectory(t), &stubSuggester{err: errors.New("index down")})
	_, err := r.Route(context.Background(), domain.StrategyContextAware, domain.RoutingContext{})
	require.Error(t, err)
	var rf *domain.RoutingFailure
	assert.False(t, errors.As(err, &rf), "suggester errors are not routing failures")
}

func TestRouter_NilSuggesterUsesWholeDirectory(t *testing.T) {
	dir := newTestDirectory(t,
		domain.Agent{Name: "b", MaxConcurrent: 1},
		domain.Agent{Name: "a", MaxConcurrent: 1},
	)
	r := NewRouter(dir, nil)

	var got []string
	for i := 0; i < 3; i++ {
		d, err := r.Route(context.Background(), domain.StrategyRoundRobin, domain.RoutingContext{})
		require.NoError(t, err)
		got = append(got, d.Agent)
	}
	assert.Equal(t, []string{"a", "b", "a"}, got)
}

func TestRouter_RoundRobinStateIsPerRouter(t *testing.T) {
	dir := newTestDirectory(t, domain.Agent{Name: "a", MaxConcurrent: 1}, domain.Agent{Name: "b", MaxConcurrent: 1})
	r1 := NewRouter(dir, nil)
	r2 := NewRouter(dir, nil)

	d1, err := r1.Route(context.Background(), domain.StrategyRoundRobin, domain.RoutingContext{})
	require.NoError(t, err)
	d2, err := r2.Route(context.Background(), domain.StrategyRoundRobin, domain.RoutingContext{})
	require.NoError(t, err)
	assert.Equal(t, d1.Agent, d2.Agent)
}

func TestRouter_RouteWithFallback(t *testing.T) {
	dir := newTestDirectory(t,
		domain.Agent{Name: "twin-a", MaxConcurrent: 2},
		domain.Agent{Name: "twin-b", MaxConcurrent: 2},
	)
	r := NewRouter(dir, &stubSuggester{suggestions: []domain.AgentSuggestion{
		{Agent: "twin-a", Confidence: 50},
		{Agent: "twin-b", Confidence: 50},
	}})

	_, err := r.Route(context.Background(), domain.StrategyContextAware, domain.RoutingContext{})
	require.True(t, errors.Is(err, domain.ErrAmbiguousRoute))

	d, err := r.RouteWithFallback(context.Background(),
		[]domain.StrategyKind{domain.StrategyContextAware, domain.StrategyRoundRobin},
		domain.RoutingContext{})
	require.NoError(t, err)
	assert.Equal(t, "twin-a", d.Agent)
	assert.Equal(t, domain.StrategyRoundRobin, d.Score.Strategy)
}

func TestRouter_RouteWithFallbackExhausted(t *testing.T) {
	r := NewRouter(newTestDirectory(t), &stubSuggester{})
	_, err := r.RouteWithFallback(context.Background(),
		[]domain.StrategyKind{domain.StrategyBestMatch, domain.StrategyLoadBalanced},
		domain.RoutingContext{})
	assert.True(t, errors.Is(err, domain.ErrNoAgentAvailable))
}

type observation struct {
	strategy domain.StrategyKind
	agent    string
	err      error
}

type recordingObserver struct{ seen []observation }

func (o *recordingObserver) ObserveRoute(strategy domain.StrategyKind, agent string, err error) {
	o.seen = append(o.seen, observation{strategy, agent, err})
}

func TestRouter_ObserverSeesEveryFallbackRoute(t *testing.T) {
	dir := newTestDirectory(t,
		domain.Agent{Name: "twin-a", MaxConcurrent: 2},
		domain.Agent{Name: "twin-b", MaxConcurrent: 2},
	)
	obs := &recordingObserver{}
	r := NewRouter(dir, &stubSuggester{suggestions: []domain.AgentSuggestion{
		{Agent: "twin-a", Confidence: 50},
		{Agent: "twin-b", Confidence: 50},
	}}, WithObserver(obs))

	_, err := r.RouteWithFallback(context.Background(),
		[]domain.StrategyKind{domain.StrategyContextAware, domain.StrategyRoundRobin}, domain.RoutingContext{})
	require.NoError(t, err)
	_, err = r.RouteWithFallback(context.Background(),
		[]domain.StrategyKind{domain.StrategyContextAware}, domain.RoutingContext{})
	require.Error(t, err)

	require.Len(t, obs.seen, 2, "one observation per request, not per strategy tried")
	assert.Equal(t, domain.StrategyRoundRobin, obs.seen[0].strategy)
	assert.Equal(t, "twin-a", obs.seen[0].agent)
	assert.NoError(t, obs.seen[0].err)
	assert.Equal(t, domain.StrategyContextAware, obs.seen[1].strategy)
	assert.ErrorIs(t, obs.seen[1].err, domain.ErrAmbiguousRoute)
}

func TestRouter_DeadlineUsesInjectedClock(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(time.Hour)
	dir := newTestDirectory(t, domain.Agent{Name: "solo", MaxConcurrent: 4})
	r := NewRouter(dir, &stubSuggester{suggestions: []domain.AgentSuggestion{{Agent: "solo", Confidence: 100}}},
		WithClock(func() time.Time { return now }))

	d, err := r.Route(context.Background(), domain.StrategyContextAware, domain.RoutingContext{
		Priority: domain.PriorityLow, Complexity: domain.ComplexitySimple, Deadline: &deadline,
	})
	require.NoError(t, err)
	// (0.3 + 0.25 + 0.2 + 0.125 + 0) * 1.6
	assert.InDelta(t, 0.875*1.6, d.Score.Final, 1e-9)

	predicted := r.PredictCompletion(domain.Agent{AvgResponseHours: 2}, domain.RoutingContext{
		Priority: domain.PriorityMedium, Complexity: domain.ComplexityModerate,
	})
	assert.Equal(t, now.Add(2*time.Hour), predicted)
}
