package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"agentroute/internal/domain"
	"agentroute/internal/infra/tracer"
)

// DefaultMaxSuggestions bounds the candidate list requested from the suggester.
const DefaultMaxSuggestions = 10

// discardLogger returns a no-op logger for routers created without one.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Router builds candidate lists and dispatches them to a routing strategy.
// Each Router owns its round-robin cursors; construct one per process or test.
type Router struct {
	directory      domain.AgentDirectory
	suggester      domain.CapabilitySuggester
	balancer       *Balancer
	context        *ContextAnalyzer
	roundRobin     *RoundRobin
	strategies     map[domain.StrategyKind]Strategy
	maxSuggestions int
	observer       Observer
	now            func() time.Time
	logger         *slog.Logger
}

// Observer records the outcome of each routing request, typically as metrics.
type Observer interface {
	ObserveRoute(strategy domain.StrategyKind, agent string, err error)
}

// Option configures a Router.
type Option func(*Router)

// WithContextAnalyzer overrides the default context tables.
func WithContextAnalyzer(c *ContextAnalyzer) Option {
	return func(r *Router) { r.context = c }
}

// WithClock overrides the clock used for deadline factors.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithMaxSuggestions overrides the suggester result limit.
func WithMaxSuggestions(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxSuggestions = n
		}
	}
}

// WithObserver reports every RouteWithFallback outcome to obs.
func WithObserver(obs Observer) Option {
	return func(r *Router) { r.observer = obs }
}

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates a router over an agent directory and capability suggester.
// suggester may be nil, in which case every directory agent is a candidate with
// zero capability confidence.
func NewRouter(directory domain.AgentDirectory, suggester domain.CapabilitySuggester, opts ...Option) *Router {
	r := &Router{
		directory:      directory,
		suggester:      suggester,
		balancer:       NewBalancer(),
		roundRobin:     NewRoundRobin(),
		maxSuggestions: DefaultMaxSuggestions,
		now:            time.Now,
		logger:         discardLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.context == nil {
		r.context = NewContextAnalyzer(nil, nil)
	}

	r.strategies = map[domain.StrategyKind]Strategy{
		domain.StrategyBestMatch:     BestMatch{},
		domain.StrategyLoadBalanced:  LoadBalanced{Balancer: r.balancer},
		domain.StrategyPriorityAware: PriorityAware{Balancer: r.balancer},
		domain.StrategyContextAware:  ContextAware{Balancer: r.balancer, Context: r.context, Now: r.now},
		domain.StrategyRoundRobin:    r.roundRobin,
	}
	return r
}

// Balancer exposes the router's workload balancer.
func (r *Router) Balancer() *Balancer { return r.balancer }

// ContextAnalyzer exposes the router's context analyzer.
func (r *Router) ContextAnalyzer() *ContextAnalyzer { return r.context }

// Strategy returns the implementation for kind.
func (r *Router) Strategy(kind domain.StrategyKind) (Strategy, error) {
	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", kind, domain.ErrUnknownStrategy)
	}
	return s, nil
}

// Candidates joins capability suggestions for the task text with the
// directory's current agent snapshots. Suggestions naming unknown agents are dropped.
func (r *Router) Candidates(ctx context.Context, rc domain.RoutingContext) ([]domain.Candidate, error) {
	if r.suggester == nil {
		agents, err := r.directory.List(ctx)
		if err != nil {
			return nil, domain.WrapOp("list agents", err)
		}
		out := make([]domain.Candidate, 0, len(agents))
		for _, a := range agents {
			out = append(out, domain.Candidate{Agent: a, Suggestion: domain.AgentSuggestion{Agent: a.Name}})
		}
		return out, nil
	}

	suggestions, err := r.suggester.Suggest(ctx, rc.Text(), r.maxSuggestions)
	if err != nil {
		return nil, domain.WrapOp("suggest agents", err)
	}
	out := make([]domain.Candidate, 0, len(suggestions))
	for _, s := range suggestions {
		agent, err := r.directory.Get(ctx, s.Agent)
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Debug("suggested agent not in directory", "agent", s.Agent)
			continue
		}
		if err != nil {
			return nil, domain.WrapOp("get agent", err)
		}
		out = append(out, domain.Candidate{Agent: *agent, Suggestion: s})
	}
	return out, nil
}

// Route selects an agent for the task described by rc using strategy kind.
func (r *Router) Route(ctx context.Context, kind domain.StrategyKind, rc domain.RoutingContext) (_ domain.RoutingDecision, err error) {
	ctx, span := tracer.StartSpan(ctx, "router.route")
	span.SetAttributes(tracer.RoutingAttrs(string(kind), rc.Priority.String(), rc.Complexity.String())...)
	defer func() { tracer.End(span, err) }()

	candidates, err := r.Candidates(ctx, rc)
	if err != nil {
		return domain.RoutingDecision{}, err
	}

	decision, err := r.RouteCandidates(kind, candidates, rc)
	if err != nil {
		return domain.RoutingDecision{}, err
	}
	span.SetAttributes(tracer.AgentAttr(decision.Agent), tracer.ScoreAttr("routing.score", decision.Score.Final))
	return decision, nil
}

// RouteCandidates filters candidates to available agents and applies strategy kind.
func (r *Router) RouteCandidates(kind domain.StrategyKind, candidates []domain.Candidate, rc domain.RoutingContext) (domain.RoutingDecision, error) {
	s, err := r.Strategy(kind)
	if err != nil {
		return domain.RoutingDecision{}, err
	}

	available := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Agent.Available() {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		r.logger.Info("no agent available", "strategy", string(kind), "candidates", len(candidates))
		return domain.RoutingDecision{}, &domain.RoutingFailure{
			Strategy: kind, Candidates: len(candidates), Err: domain.ErrNoAgentAvailable,
		}
	}

	agent, score, err := s.Route(available, rc)
	if err != nil {
		r.logger.Info("routing failed", "strategy", string(kind), "candidates", len(available), "error", err)
		return domain.RoutingDecision{}, err
	}

	r.logger.Debug("agent routed",
		"strategy", string(kind),
		"agent", agent,
		"score", score.Final,
		"rationale", score.Rationale,
	)
	return domain.RoutingDecision{Agent: agent, Score: score}, nil
}

// RouteWithFallback tries each strategy in order until one succeeds.
// Only routing failures advance to the next strategy. The outcome is
// reported once to the observer: under the winning strategy, or under the
// first one on failure.
func (r *Router) RouteWithFallback(ctx context.Context, kinds []domain.StrategyKind, rc domain.RoutingContext) (domain.RoutingDecision, error) {
	decision, err := r.routeWithFallback(ctx, kinds, rc)
	if r.observer != nil {
		observed := decision.Score.Strategy
		if err != nil && len(kinds) > 0 {
			observed = kinds[0]
		}
		r.observer.ObserveRoute(observed, decision.Agent, err)
	}
	return decision, err
}

func (r *Router) routeWithFallback(ctx context.Context, kinds []domain.StrategyKind, rc domain.RoutingContext) (domain.RoutingDecision, error) {
	var lastErr error
	for _, kind := range kinds {
		decision, err := r.Route(ctx, kind, rc)
		if err == nil {
			return decision, nil
		}
		var rf *domain.RoutingFailure
		if !errors.As(err, &rf) {
			return domain.RoutingDecision{}, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &domain.RoutingFailure{Err: domain.ErrNoAgentAvailable}
	}
	return domain.RoutingDecision{}, lastErr
}

// PredictCompletion estimates when agent would finish the task if routed now.
func (r *Router) PredictCompletion(agent domain.Agent, rc domain.RoutingContext) time.Time {
	return r.balancer.PredictCompletion(agent, rc, r.now())
}
