// Package httpapi exposes analysis, routing and workflow control over a REST
// API, plus a websocket stream of lifecycle events.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"agentroute/internal/domain"
	"agentroute/internal/infra/config"
	"agentroute/internal/infra/middleware"
)

// Workflows is the orchestrator surface the API drives.
type Workflows interface {
	Create(ctx context.Context, plan domain.Plan) (*domain.WorkflowExecution, error)
	Run(ctx context.Context, id string) (*domain.WorkflowExecution, error)
	Cancel(ctx context.Context, id string) (*domain.WorkflowExecution, error)
	Get(ctx context.Context, id string) (*domain.WorkflowExecution, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.WorkflowExecution, error)
	Delete(ctx context.Context, id string) error
}

// Analyzer classifies task text.
type Analyzer interface {
	Analyze(ctx context.Context, title, description string) (*domain.TaskAnalysis, error)
}

// Planner turns an analysis into an executable plan.
type Planner interface {
	PlanWith(analysis domain.TaskAnalysis, template string) (domain.Plan, error)
	Decompose(plan domain.Plan) []domain.SubTask
	Templates() []domain.WorkflowTemplate
}

// Router picks an agent for a routing context.
type Router interface {
	RouteWithFallback(ctx context.Context, kinds []domain.StrategyKind, rc domain.RoutingContext) (domain.RoutingDecision, error)
	PredictCompletion(agent domain.Agent, rc domain.RoutingContext) time.Time
}

// HealthChecker reports backing store health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps wires the server to the rest of the application. Metrics is optional.
type Deps struct {
	Workflows Workflows
	Analyzer  Analyzer
	Planner   Planner
	Router    Router
	Agents    domain.AgentDirectory
	Health    HealthChecker
	Events    domain.Notifier
	Metrics   http.Handler

	// Strategy and Fallback apply to /v1/route requests that name none.
	Strategy domain.StrategyKind
	Fallback []domain.StrategyKind
}

// Server serves the REST API. Runs started asynchronously belong to the
// server and are cancelled by Stop.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	logger *slog.Logger

	handler   http.Handler
	httpSrv   *http.Server
	boundAddr atomic.Value // string

	baseCtx    context.Context
	cancelBase context.CancelFunc
	runMu      sync.Mutex
	stopping   bool
	runs       sync.WaitGroup

	clients  sync.Map // conn id -> *eventClient
	nextConn atomic.Uint64
	stopOnce sync.Once
}

// New builds a server. Call Start to listen, or use Handler directly.
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Strategy == "" {
		deps.Strategy = domain.StrategyContextAware
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		baseCtx:    ctx,
		cancelBase: cancel,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RateLimit(s.baseCtx, middleware.RateLimitConfig{
		RequestsPerMin: s.cfg.RequestsPerMin,
		Burst:          s.cfg.Burst,
		TrustedProxies: s.cfg.TrustedProxies,
	}))
	r.Use(middleware.BearerAuth(s.cfg.Token, "/healthz"))

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/route", s.handleRoute)
		r.Get("/agents", s.handleAgents)
		r.Get("/templates", s.handleTemplates)
		r.Get("/events", s.handleEvents)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handleListWorkflows)
			r.Post("/", s.handleCreateWorkflow)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkflow)
				r.Delete("/", s.handleDeleteWorkflow)
				r.Post("/run", s.handleRunWorkflow)
				r.Post("/cancel", s.handleCancelWorkflow)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no route for " + r.URL.Path, Code: domain.CodeNotFound})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: r.Method + " not allowed on " + r.URL.Path, Code: domain.CodeInvalidInput})
	})
	return r
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on the configured address and serves until ctx is cancelled
// or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.runMu.Lock()
	if s.stopping {
		s.runMu.Unlock()
		return listener.Close()
	}
	s.httpSrv = srv
	s.runMu.Unlock()

	s.logger.Info("api server started", "addr", listener.Addr().String())

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop(context.Background())
		case <-s.baseCtx.Done():
		}
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api serve: %w", err)
	}
	return nil
}

// Stop cancels background runs, disconnects event streams and shuts the
// listener down. It waits for background runs to record their final state.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.runMu.Lock()
		s.stopping = true
		srv := s.httpSrv
		s.runMu.Unlock()
		s.cancelBase()
		s.clients.Range(func(key, value any) bool {
			value.(*eventClient).close()
			s.clients.Delete(key)
			return true
		})
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err = srv.Shutdown(shutdownCtx)
		}
		s.runs.Wait()
		s.logger.Info("api server stopped")
	})
	return err
}

// goRun runs fn in the background under the server's base context. It
// reports false once Stop has begun.
func (s *Server) goRun(fn func(ctx context.Context)) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stopping {
		return false
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		fn(s.baseCtx)
	}()
	return true
}

// Wait blocks until every background run has returned.
func (s *Server) Wait() { s.runs.Wait() }

// BoundAddr returns the listening address. Only valid after Start.
func (s *Server) BoundAddr() string {
	addr, _ := s.boundAddr.Load().(string)
	return addr
}
