// Package executor implements the phase execution port.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"agentroute/internal/domain"
	"agentroute/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size read from an agent endpoint.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Default HTTP executor settings.
const (
	defaultConnTimeout     = 30 * time.Second
	defaultRequestTimeout  = 10 * time.Minute
	defaultMaxIdleConns    = 20
	defaultIdleConnTimeout = 120 * time.Second
)

// TaskRequest is the body POSTed to {base}/agents/{agent}/tasks.
type TaskRequest struct {
	WorkflowID     string  `json:"workflow_id"`
	TaskID         string  `json:"task_id"`
	Agent          string  `json:"agent"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	EstimatedHours float64 `json:"estimated_hours"`
}

// HTTPExecutor delegates phases to a remote agent service over JSON/HTTP.
// The response body is decoded as a domain.PhaseResult.
type HTTPExecutor struct {
	base   *url.URL
	token  string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPExecutor creates an executor posting to baseURL. timeout bounds a
// whole request; zero means the default.
func NewHTTPExecutor(baseURL, token string, timeout time.Duration, logger *slog.Logger) (*HTTPExecutor, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("executor url %q: %w", baseURL, domain.ErrInvalidInput)
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &HTTPExecutor{
		base:   u,
		token:  token,
		client: newHTTPClient(timeout),
		logger: logger,
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   defaultConnTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        defaultMaxIdleConns,
			MaxIdleConnsPerHost: defaultMaxIdleConns / 2,
			IdleConnTimeout:     defaultIdleConnTimeout,
			ForceAttemptHTTP2:   true,
		},
		Timeout: timeout,
	}
}

// Execute implements domain.AgentExecutor.
func (e *HTTPExecutor) Execute(ctx context.Context, task domain.AgentTask) (_ *domain.PhaseResult, err error) {
	ctx, span := tracer.StartSpan(ctx, "executor.http")
	span.SetAttributes(tracer.AgentAttr(task.AgentName), tracer.WorkflowIDAttr(task.WorkflowID))
	defer func() { tracer.End(span, err) }()

	body, err := json.Marshal(TaskRequest{
		WorkflowID:     task.WorkflowID,
		TaskID:         task.ID,
		Agent:          task.AgentName,
		Title:          task.Title,
		Description:    task.Description,
		EstimatedHours: task.EstimatedHours,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	endpoint := e.base.JoinPath("agents", task.AgentName, "tasks")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(task.AgentName, resp.StatusCode, respBody)
	}

	var result domain.PhaseResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode phase result: %w", err)
	}
	if result.QualityScore < 0 || result.QualityScore > 1 {
		return nil, fmt.Errorf("phase result quality_score %v outside [0,1]: %w", result.QualityScore, domain.ErrInvalidInput)
	}

	span.SetAttributes(tracer.ScoreAttr("phase.quality_score", result.QualityScore))
	e.logger.Debug("agent task completed", "agent", task.AgentName, "task", task.Title, "quality", result.QualityScore)
	return &result, nil
}

// mapHTTPError maps an agent endpoint status to a domain error.
func mapHTTPError(agent string, statusCode int, body []byte) error {
	detail := fmt.Sprintf("agent endpoint error %d: %s", statusCode, bytes.TrimSpace(body))

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrLimitReached, detail)
	case statusCode == http.StatusNotFound:
		return domain.NewSubSystemError("agent", "HTTPExecutor.Execute", domain.ErrNotFound, agent)
	case statusCode == http.StatusServiceUnavailable:
		return &domain.AgentUnavailable{Agent: agent, Reason: detail}
	case statusCode == http.StatusGatewayTimeout || statusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s", domain.ErrTimeout, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var _ domain.AgentExecutor = (*HTTPExecutor)(nil)
