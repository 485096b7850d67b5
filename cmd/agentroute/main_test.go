package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentroute/internal/domain"
	"agentroute/internal/infra/config"
	"agentroute/internal/usecase/routing"
)

const testPlan = `title: Fix checkout crash
priority: high
phases:
  - name: Reproduce and fix
    agent: debugger
    estimated_hours: 2
  - name: Add regression tests
    agent: test-engineer
    estimated_hours: 1
`

// writeConfig writes a config using file storage under a temp dir and
// returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	return writeConfigWith(t, "")
}

// writeConfigWith is writeConfig with extra top-level YAML appended.
func writeConfigWith(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `logger:
  output: discard
storage:
  backend: file
  dir: ` + filepath.Join(dir, "workflows") + `
scheduler:
  enabled: false
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	return executeContext(context.Background(), t, args...)
}

func executeContext(ctx context.Context, t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func TestAnalyzeCommand(t *testing.T) {
	cfg := writeConfig(t)
	out, _, err := execute(t, "analyze", "--config", cfg, "--title", "Fix checkout crash", "--template", "bug-fix")
	require.NoError(t, err)

	var got struct {
		Analysis domain.TaskAnalysis `json:"analysis"`
		Plan     domain.Plan         `json:"plan"`
		SubTasks []domain.SubTask    `json:"sub_tasks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Fix checkout crash", got.Analysis.Title)
	assert.Equal(t, "bug-fix", got.Plan.Template)
	require.NotEmpty(t, got.Plan.Phases)
	assert.Len(t, got.SubTasks, len(got.Plan.Phases))
}

func TestAnalyzeCommand_Errors(t *testing.T) {
	cfg := writeConfig(t)

	_, _, err := execute(t, "analyze", "--config", cfg)
	assert.ErrorContains(t, err, `"title" not set`)

	_, _, err = execute(t, "analyze", "--config", cfg, "--title", "x", "--template", "no-such-template")
	assert.Equal(t, domain.CodeTemplateNotFound, domain.ErrorCodeOf(err))
}

func TestRouteCommand(t *testing.T) {
	cfg := writeConfig(t)
	out, _, err := execute(t, "route", "--config", cfg,
		"--title", "Add regression tests for checkout", "--strategy", "best_match", "--priority", "high")
	require.NoError(t, err)

	var got struct {
		Decision            domain.RoutingDecision `json:"decision"`
		PredictedCompletion time.Time              `json:"predicted_completion"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "test-engineer", got.Decision.Agent)
	assert.Equal(t, domain.StrategyBestMatch, got.Decision.Score.Strategy)
	assert.True(t, got.PredictedCompletion.After(time.Now()))
}

func TestRouteCommand_InvalidInput(t *testing.T) {
	cfg := writeConfig(t)
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"priority", []string{"--priority", "whenever"}, domain.ErrInvalidInput},
		{"complexity", []string{"--complexity", "huge"}, domain.ErrInvalidInput},
		{"deadline", []string{"--deadline", "tomorrow"}, domain.ErrValidation},
		{"strategy", []string{"--strategy", "coin_flip"}, domain.ErrUnknownStrategy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"route", "--config", cfg, "--title", "Fix crash"}, tt.args...)
			_, _, err := execute(t, args...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRunAndManageWorkflow(t *testing.T) {
	cfg := writeConfig(t)
	plan := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(plan, []byte(testPlan), 0o600))

	out, progress, err := execute(t, "run", "--config", cfg, plan)
	require.NoError(t, err)

	var wf domain.WorkflowExecution
	require.NoError(t, json.Unmarshal([]byte(out), &wf))
	assert.Equal(t, domain.WorkflowCompleted, wf.Status)
	assert.Equal(t, "Fix checkout crash", wf.TaskName)
	assert.Len(t, wf.Tasks, 2)
	assert.InDelta(t, 3.0, wf.ActualHours, 1e-9)
	assert.Contains(t, progress, "workflow_started")
	assert.Contains(t, progress, "task_completed")
	assert.Contains(t, progress, "workflow_completed")

	out, _, err = execute(t, "workflows", "list", "--config", cfg, "--status", "COMPLETED")
	require.NoError(t, err)
	var list struct {
		Count     int                        `json:"count"`
		Workflows []domain.WorkflowExecution `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, wf.ID, list.Workflows[0].ID)

	out, _, err = execute(t, "workflows", "show", "--config", cfg, wf.ID)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "completed"`)

	_, _, err = execute(t, "workflows", "cancel", "--config", cfg, wf.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, err = execute(t, "workflows", "delete", "--config", cfg, wf.ID)
	require.NoError(t, err)

	_, _, err = execute(t, "workflows", "show", "--config", cfg, wf.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunCommand_ExecutionFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	agents := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "agent overloaded", http.StatusServiceUnavailable)
	}))
	defer agents.Close()

	cfg := writeConfigWith(t, `executor:
  type: http
  url: `+agents.URL+`
  breaker:
    enabled: false
`)
	plan := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(plan, []byte(testPlan), 0o600))

	start := time.Now()
	out, _, err := execute(t, "run", "-q", "--config", cfg, "--retry-interval", "10s", plan)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "a failed workflow must not wait for a retry")
	assert.ErrorIs(t, err, domain.ErrExecution)
	assert.ErrorIs(t, err, domain.ErrAgentUnavailable)
	assert.NotErrorIs(t, err, domain.ErrInvalidTransition)
	assert.False(t, domain.IsRetryableError(err))
	assert.EqualValues(t, 1, calls.Load())

	var wf domain.WorkflowExecution
	require.NoError(t, json.Unmarshal([]byte(out), &wf))
	assert.Equal(t, domain.WorkflowFailed, wf.Status)
	assert.Equal(t, domain.TaskFailed, wf.Tasks[0].Status)
}

func TestRunCommand_FromTitleQuiet(t *testing.T) {
	cfg := writeConfig(t)
	out, progress, err := execute(t, "run", "--config", cfg, "--quiet",
		"--title", "Fix checkout crash", "--template", "bug-fix")
	require.NoError(t, err)
	assert.Empty(t, progress)

	var wf domain.WorkflowExecution
	require.NoError(t, json.Unmarshal([]byte(out), &wf))
	assert.Equal(t, domain.WorkflowCompleted, wf.Status)
	for _, task := range wf.Tasks {
		assert.NotEqual(t, "auto", task.AgentName)
		assert.Equal(t, domain.TaskCompleted, task.Status)
	}
}

func TestRunCommand_SourceSelection(t *testing.T) {
	cfg := writeConfig(t)
	_, _, err := execute(t, "run", "--config", cfg)
	assert.ErrorContains(t, err, "exactly one")

	_, _, err = execute(t, "run", "--config", cfg, "plan.yaml", "--title", "x")
	assert.ErrorContains(t, err, "exactly one")

	_, _, err = execute(t, "run", "--config", cfg, "--resume", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWorkflowsCleanup(t *testing.T) {
	cfg := writeConfig(t)
	out, _, err := execute(t, "workflows", "cleanup", "--config", cfg, "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, `"removed": 0`)

	_, _, err = execute(t, "workflows", "list", "--config", cfg, "--status", "paused")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAgentsAndTemplatesCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := execute(t, "agents", "--config", cfg)
	require.NoError(t, err)
	var agents struct {
		Agents   []domain.Agent    `json:"agents"`
		Breakers map[string]string `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &agents))
	assert.Len(t, agents.Agents, len(config.DefaultAgents()))
	assert.NotNil(t, agents.Breakers)

	out, _, err = execute(t, "templates", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, `"bug-fix"`)
	assert.Contains(t, out, `"full-stack-feature"`)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(testPlan), 0o600))
	out, _, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, `"phases": 2`)
	assert.Contains(t, out, `"estimated_hours": 3`)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("title: x\nphases:\n  - agent: debugger\n"), 0o600))
	_, _, err = execute(t, "validate", bad)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEncryptCommand(t *testing.T) {
	t.Setenv(config.MasterKeyEnv, "correct horse battery staple")

	out, _, err := execute(t, "encrypt", "s3cret")
	require.NoError(t, err)
	enc := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(enc, config.EncPrefix))

	plain, err := config.DecryptValue(strings.TrimPrefix(enc, config.EncPrefix), "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	_, _, err = execute(t, "encrypt")
	assert.ErrorContains(t, err, "read value")

	t.Setenv(config.MasterKeyEnv, "")
	_, _, err = execute(t, "encrypt", "s3cret")
	assert.ErrorContains(t, err, config.MasterKeyEnv)
}

func TestServeCommandStopsOnCancel(t *testing.T) {
	cfg := writeConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := executeContext(ctx, t, "serve", "--config", cfg, "--addr", "127.0.0.1:0")
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestStrategyChain(t *testing.T) {
	primary, fallback, err := strategyChain(config.RoutingConfig{Strategy: "priority_aware", Fallback: []string{"ROUND_ROBIN"}})
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyPriorityAware, primary)
	assert.Equal(t, []domain.StrategyKind{domain.StrategyRoundRobin}, fallback)

	_, _, err = strategyChain(config.RoutingConfig{Strategy: "best_match", Fallback: []string{"nope"}})
	assert.ErrorIs(t, err, domain.ErrUnknownStrategy)
}

func TestContextAnalyzerFromConfig(t *testing.T) {
	c := contextAnalyzerFromConfig(config.RoutingConfig{
		PreferredAgents: map[string][]string{"bug_fix": {"triage-bot"}},
	})
	rc := domain.RoutingContext{}
	bugFix := routing.Insights{TaskType: routing.TaskBugFix}
	assert.Greater(t, c.Score("triage-bot", rc, bugFix), c.Score("debugger", rc, bugFix))

	defaults := contextAnalyzerFromConfig(config.RoutingConfig{})
	assert.Greater(t, defaults.Score("debugger", rc, bugFix), defaults.Score("triage-bot", rc, bugFix))
}

func TestConfigErrorSurfaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routing:\n  strategy: coin_flip\n"), 0o600))
	_, _, err := execute(t, "agents", "--config", path)
	assert.ErrorContains(t, err, "routing.strategy")
}
