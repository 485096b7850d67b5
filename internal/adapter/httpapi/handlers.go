package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"agentroute/internal/adapter/planfile"
	"agentroute/internal/domain"
)

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("body", "request body is empty")
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return badRequest("body", fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit))
		}
		return badRequest("body", err.Error())
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type analyzeRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Template    string `json:"template,omitempty"`
}

type analyzeResponse struct {
	Analysis *domain.TaskAnalysis `json:"analysis"`
	Plan     domain.Plan          `json:"plan"`
	SubTasks []domain.SubTask     `json:"subtasks"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	analysis, plan, err := s.plan(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{
		Analysis: analysis,
		Plan:     plan,
		SubTasks: s.deps.Planner.Decompose(plan),
	})
}

// plan analyzes free text and expands it into a plan from a template.
func (s *Server) plan(ctx context.Context, req analyzeRequest) (*domain.TaskAnalysis, domain.Plan, error) {
	analysis, err := s.deps.Analyzer.Analyze(ctx, req.Title, req.Description)
	if err != nil {
		return nil, domain.Plan{}, err
	}
	plan, err := s.deps.Planner.PlanWith(*analysis, req.Template)
	if err != nil {
		return nil, domain.Plan{}, err
	}
	return analysis, plan, nil
}

type routeRequest struct {
	domain.RoutingContext
	Strategy string   `json:"strategy,omitempty"`
	Fallback []string `json:"fallback,omitempty"`
}

type routeResponse struct {
	domain.RoutingDecision
	PredictedCompletion *time.Time `json:"predicted_completion,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.writeError(w, r, badRequest("title", "must not be empty"), nil)
		return
	}
	kinds, err := s.strategies(req.Strategy, req.Fallback)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	decision, err := s.deps.Router.RouteWithFallback(r.Context(), kinds, req.RoutingContext)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	resp := routeResponse{RoutingDecision: decision}
	if agent, err := s.deps.Agents.Get(r.Context(), decision.Agent); err == nil {
		eta := s.deps.Router.PredictCompletion(*agent, req.RoutingContext)
		resp.PredictedCompletion = &eta
	}
	writeJSON(w, http.StatusOK, resp)
}

// strategies resolves the requested strategy chain, defaulting to the
// server's configured one.
func (s *Server) strategies(primary string, fallback []string) ([]domain.StrategyKind, error) {
	if primary == "" {
		return append([]domain.StrategyKind{s.deps.Strategy}, s.deps.Fallback...), nil
	}
	names := append([]string{primary}, fallback...)
	kinds := make([]domain.StrategyKind, 0, len(names))
	for _, name := range names {
		k, err := domain.ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.deps.Agents.List(r.Context())
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.deps.Planner.Templates()})
}

// createRequest carries either an explicit plan or task text to plan from.
type createRequest struct {
	Plan json.RawMessage `json:"plan,omitempty"`
	analyzeRequest
	Run bool `json:"run,omitempty"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	var plan domain.Plan
	switch {
	case len(req.Plan) > 0 && req.Title != "":
		s.writeError(w, r, badRequest("plan", "give either plan or title, not both"), nil)
		return
	case len(req.Plan) > 0:
		p, err := planfile.Decode(req.Plan)
		if err != nil {
			s.writeError(w, r, err, nil)
			return
		}
		plan = p
	default:
		_, p, err := s.plan(r.Context(), req.analyzeRequest)
		if err != nil {
			s.writeError(w, r, err, nil)
			return
		}
		plan = p
	}

	wf, err := s.deps.Workflows.Create(r.Context(), plan)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.Header().Set("Location", "/v1/workflows/"+wf.ID)
	if req.Run && !s.runInBackground(wf.ID) {
		s.writeError(w, r, fmt.Errorf("server shutting down: %w", domain.ErrAgentUnavailable), wf)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// runInBackground drives a workflow to completion on the server's context.
func (s *Server) runInBackground(id string) bool {
	return s.goRun(func(ctx context.Context) {
		wf, err := s.deps.Workflows.Run(ctx, id)
		if err != nil {
			s.logger.Warn("background run stopped", "workflow_id", id, "code", domain.ErrorCodeOf(err), "error", err)
			return
		}
		s.logger.Info("background run finished", "workflow_id", id, "status", wf.Status)
	})
}

func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	if wait {
		wf, err := s.deps.Workflows.Run(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err, wf)
			return
		}
		writeJSON(w, http.StatusOK, wf)
		return
	}

	wf, err := s.deps.Workflows.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if wf.Status.Terminal() {
		s.writeError(w, r, fmt.Errorf("run workflow %s in status %s: %w", id, wf.Status, domain.ErrInvalidTransition), wf)
		return
	}
	if !s.runInBackground(id) {
		s.writeError(w, r, fmt.Errorf("server shutting down: %w", domain.ErrAgentUnavailable), wf)
		return
	}
	writeJSON(w, http.StatusAccepted, wf)
}

func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Workflows.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, wf)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Workflows.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Workflows.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	wfs, err := s.deps.Workflows.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if wfs == nil {
		wfs = []domain.WorkflowExecution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": wfs})
}

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	q := r.URL.Query()
	var f domain.ListFilter
	if v := q.Get("status"); v != "" {
		f.Status = domain.WorkflowStatus(strings.ToLower(v))
		if !f.Status.Valid() {
			return f, badRequest("status", fmt.Sprintf("unknown status %q", v))
		}
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, badRequest(p.name, "must be a non-negative integer")
		}
		*p.dst = n
	}
	return f, nil
}
