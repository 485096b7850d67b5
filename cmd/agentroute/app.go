package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"agentroute/internal/adapter/executor"
	"agentroute/internal/adapter/metrics"
	"agentroute/internal/adapter/storage"
	"agentroute/internal/adapter/suggester"
	"agentroute/internal/domain"
	"agentroute/internal/infra/config"
	"agentroute/internal/infra/logger"
	"agentroute/internal/infra/tracer"
	"agentroute/internal/usecase/analysis"
	"agentroute/internal/usecase/directory"
	"agentroute/internal/usecase/eventbus"
	"agentroute/internal/usecase/orchestrator"
	"agentroute/internal/usecase/routing"
)

// app holds every component built from one config file.
type app struct {
	cfg *config.Config
	log *slog.Logger

	store     storage.Store
	agents    *directory.Directory
	suggester *suggester.KeywordSuggester
	analyzer  *analysis.TaskAnalyzer
	templates *analysis.TemplateEngine
	router    *routing.Router
	bus       *eventbus.Bus
	pool      *orchestrator.Pool
	breaker   *executor.Breaker
	orch      *orchestrator.Orchestrator
	metrics   *metrics.Collector

	strategy domain.StrategyKind
	fallback []domain.StrategyKind

	closers []func(context.Context) error
}

// newApp loads the config at path and wires the application. Close releases
// everything it opened, also on partial failure.
func newApp(ctx context.Context, path string) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	// 1. Config
	a.cfg, err = config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if a.strategy, a.fallback, err = strategyChain(a.cfg.Routing); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(a.cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.onClose(func(context.Context) error { return logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, a.cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.onClose(tracerShutdown)

	// 3. Storage
	a.store, err = storage.Open(a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.onClose(func(context.Context) error { return a.store.Close() })

	// 4. Agents, analysis and routing
	a.agents, err = directory.New(logger.Component(log, "directory"), agentsFromConfig(a.cfg.Agents)...)
	if err != nil {
		return nil, fmt.Errorf("agents: %w", err)
	}
	a.suggester = suggester.NewKeywordSuggester(a.agents)
	a.analyzer = analysis.NewTaskAnalyzer(a.suggester, logger.Component(log, "analyzer"))
	a.templates = analysis.NewTemplateEngine(a.cfg.Routing.DefaultAgent, logger.Component(log, "templates"))
	if dir := a.cfg.Templates.Dir; dir != "" {
		n, err := a.templates.LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("templates: %w", err)
		}
		log.Debug("templates loaded", "dir", dir, "count", n)
	}
	a.metrics = metrics.New(a.agents, logger.Component(log, "metrics"))
	a.router = routing.NewRouter(a.agents, a.suggester,
		routing.WithContextAnalyzer(contextAnalyzerFromConfig(a.cfg.Routing)),
		routing.WithMaxSuggestions(a.cfg.Routing.MaxSuggestions),
		routing.WithObserver(a.metrics),
		routing.WithLogger(logger.Component(log, "router")),
	)

	// 5. Event bus
	a.bus = eventbus.New(logger.Component(log, "eventbus"))
	a.onClose(func(context.Context) error { a.bus.Close(); return nil })
	a.metrics.Attach(a.bus)

	// 6. Execution
	exec, breaker, err := executor.New(a.cfg.Executor, logger.Component(log, "executor"))
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	a.breaker = breaker
	a.pool = orchestrator.NewPool(exec, a.cfg.Orchestrator.Workers, a.cfg.Orchestrator.QueueSize, logger.Component(log, "pool"))
	a.onClose(func(context.Context) error { return a.pool.Close() })

	a.orch = orchestrator.New(a.store, a.agents, a.router, a.pool, a.bus, orchestrator.Config{
		Strategy:     a.strategy,
		Fallback:     a.fallback,
		PhaseTimeout: a.cfg.Orchestrator.PhaseTimeout,
		Gates:        gatesFromConfig(a.cfg.QualityGates),
	}, orchestrator.WithLogger(logger.Component(log, "orchestrator")))

	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// plan analyzes the task text and builds a plan from the named template, or
// from the best matching one when template is empty.
func (a *app) plan(ctx context.Context, title, description, template string) (*domain.TaskAnalysis, domain.Plan, error) {
	analysis, err := a.analyzer.Analyze(ctx, title, description)
	if err != nil {
		return nil, domain.Plan{}, err
	}
	plan, err := a.templates.PlanWith(*analysis, template)
	if err != nil {
		return nil, domain.Plan{}, err
	}
	return analysis, plan, nil
}

func strategyChain(cfg config.RoutingConfig) (domain.StrategyKind, []domain.StrategyKind, error) {
	primary, err := domain.ParseStrategy(cfg.Strategy)
	if err != nil {
		return "", nil, err
	}
	fallback := make([]domain.StrategyKind, 0, len(cfg.Fallback))
	for _, name := range cfg.Fallback {
		k, err := domain.ParseStrategy(name)
		if err != nil {
			return "", nil, err
		}
		fallback = append(fallback, k)
	}
	return primary, fallback, nil
}

func agentsFromConfig(cfgs []config.AgentConfig) []domain.Agent {
	agents := make([]domain.Agent, 0, len(cfgs))
	for _, c := range cfgs {
		agents = append(agents, domain.Agent{
			Name:             c.Name,
			Description:      c.Description,
			Capabilities:     c.Capabilities,
			MaxConcurrent:    c.MaxConcurrent,
			AvgResponseHours: c.AvgResponseHours,
			SuccessRate:      c.SuccessRate,
		})
	}
	return agents
}

func gatesFromConfig(cfgs []config.QualityGateConfig) []domain.QualityGate {
	gates := make([]domain.QualityGate, 0, len(cfgs))
	for _, c := range cfgs {
		gates = append(gates, domain.QualityGate{
			Name:                c.Name,
			Threshold:           c.Threshold,
			EvaluatorCapability: c.EvaluatorCapability,
			Blocking:            c.Blocking,
		})
	}
	return gates
}

// contextAnalyzerFromConfig builds the analyzer from the configured tables.
// Tables left empty keep the built-in defaults.
func contextAnalyzerFromConfig(cfg config.RoutingConfig) *routing.ContextAnalyzer {
	var preferred map[routing.TaskType][]string
	if len(cfg.PreferredAgents) > 0 {
		preferred = make(map[routing.TaskType][]string, len(cfg.PreferredAgents))
		for taskType, agents := range cfg.PreferredAgents {
			preferred[routing.TaskType(taskType)] = agents
		}
	}
	var affinity map[string][]string
	if len(cfg.Affinity) > 0 {
		affinity = cfg.Affinity
	}
	return routing.NewContextAnalyzer(preferred, affinity)
}

// shutdownTimeout bounds graceful shutdown of long-running commands.
const shutdownTimeout = 10 * time.Second
