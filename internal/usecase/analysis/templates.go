package analysis

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"agentroute/internal/domain"
)

// DefaultAgent resolves "auto" phases when no required agent was suggested.
const DefaultAgent = "general-purpose"

// Built-in template names.
const (
	TemplateFullStackFeature    = "full-stack-feature"
	TemplateDataAnalysis        = "data-analysis"
	TemplateInfrastructureSetup = "infrastructure-setup"
	TemplateBugFix              = "bug-fix"
	TemplateDocumentation       = "documentation"
)

func builtinTemplates() []domain.WorkflowTemplate {
	return []domain.WorkflowTemplate{
		{
			Name:        TemplateBugFix,
			Description: "Reproduce, fix and verify a defect",
			Keywords:    []string{"bug", "fix", "error", "crash", "broken", "regression"},
			Phases: []domain.TemplatePhase{
				{Name: "Investigation", Agent: "debugger", Hours: 3, Description: "Reproduce the defect and locate the root cause"},
				{Name: "Fix Implementation", Agent: domain.AutoAgent, Hours: 4, Description: "Implement the fix"},
				{Name: "Testing", Agent: "test-engineer", Hours: 2, Description: "Add regression tests and verify the fix"},
				{Name: "Code Review", Agent: "code-reviewer", Hours: 1, Description: "Review the change"},
			},
		},
		{
			Name:        TemplateDocumentation,
			Description: "Plan, write and review documentation",
			Keywords:    []string{"document", "docs", "readme", "guide", "tutorial"},
			Phases: []domain.TemplatePhase{
				{Name: "Content Outline", Agent: domain.AutoAgent, Hours: 2, Description: "Outline audience and structure"},
				{Name: "Writing", Agent: "technical-writer", Hours: 6, Description: "Write the documentation"},
				{Name: "Technical Review", Agent: "code-reviewer", Hours: 2, Description: "Check accuracy against the code"},
			},
		},
		{
			Name:        TemplateInfrastructureSetup,
			Description: "Design, provision and verify infrastructure",
			Keywords:    []string{"infrastructure", "deploy", "kubernetes", "docker", "ci/cd", "terraform", "cluster"},
			Phases: []domain.TemplatePhase{
				{Name: "Infrastructure Design", Agent: "cloud-architect", Hours: 6, Description: "Design topology and capacity"},
				{Name: "Provisioning", Agent: "devops-engineer", Hours: 10, Description: "Provision resources as code"},
				{Name: "Security Review", Agent: "security-auditor", Hours: 4, Description: "Audit access and network exposure"},
				{Name: "Deployment Verification", Agent: "devops-engineer", Hours: 3, Description: "Smoke test the environment"},
			},
		},
		{
			Name:        TemplateDataAnalysis,
			Description: "Collect, analyze and report on data",
			Keywords:    []string{"data", "analytics", "report", "dashboard", "metrics", "analysis"},
			Phases: []domain.TemplatePhase{
				{Name: "Data Collection", Agent: "data-engineer", Hours: 6, Description: "Gather and clean source data"},
				{Name: "Analysis", Agent: "data-scientist", Hours: 10, Description: "Analyze and model the data"},
				{Name: "Visualization", Agent: domain.AutoAgent, Hours: 4, Description: "Build charts and dashboards"},
				{Name: "Results Review", Agent: "data-scientist", Hours: 2, Description: "Validate conclusions"},
			},
		},
		{
			Name:        TemplateFullStackFeature,
			Description: "Deliver a feature across backend and frontend",
			Keywords:    []string{"feature", "full stack", "full-stack", "frontend", "backend", "ui", "api"},
			Phases: []domain.TemplatePhase{
				{Name: "Requirements Analysis", Agent: domain.AutoAgent, Hours: 4, Description: "Clarify scope and acceptance criteria"},
				{Name: "Backend Implementation", Agent: "backend-developer", Hours: 12, Description: "Implement services and persistence"},
				{Name: "Frontend Implementation", Agent: "frontend-developer", Hours: 10, Description: "Implement the user interface"},
				{Name: "Testing", Agent: "test-engineer", Hours: 6, Description: "End-to-end and integration tests"},
				{Name: "Code Review", Agent: "code-reviewer", Hours: 2, Description: "Review the change set"},
			},
		},
	}
}

// TemplateEngine selects and customizes workflow templates into plans.
type TemplateEngine struct {
	mu           sync.RWMutex
	templates    map[string]domain.WorkflowTemplate
	order        []string // selection order
	defaultAgent string
	logger       *slog.Logger
}

// NewTemplateEngine creates an engine seeded with the built-in templates.
func NewTemplateEngine(defaultAgent string, logger *slog.Logger) *TemplateEngine {
	if logger == nil {
		logger = discardLogger()
	}
	if defaultAgent == "" {
		defaultAgent = DefaultAgent
	}
	e := &TemplateEngine{
		templates:    make(map[string]domain.WorkflowTemplate),
		defaultAgent: defaultAgent,
		logger:       logger,
	}
	for _, t := range builtinTemplates() {
		e.register(t)
	}
	return e
}

func (e *TemplateEngine) register(t domain.WorkflowTemplate) {
	if _, exists := e.templates[t.Name]; !exists {
		e.order = append(e.order, t.Name)
	}
	e.templates[t.Name] = t
}

// LoadDir reads YAML template definitions from dir. A file whose template
// name matches an existing one replaces it. Missing directories are ignored.
func (e *TemplateEngine) LoadDir(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			e.logger.Debug("template directory does not exist", "dir", dir)
			return 0, nil
		}
		return 0, fmt.Errorf("read template dir: %w", err)
	}

	var loaded []domain.WorkflowTemplate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			e.logger.Warn("skip unreadable template file", "file", entry.Name(), "error", err)
			continue
		}

		var t domain.WorkflowTemplate
		if err := yaml.Unmarshal(data, &t); err != nil {
			e.logger.Warn("skip invalid template file", "file", entry.Name(), "error", err)
			continue
		}
		if t.Name == "" {
			t.Name = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		if err := validateTemplate(t); err != nil {
			e.logger.Warn("skip invalid template", "file", entry.Name(), "error", err)
			continue
		}
		loaded = append(loaded, t)
	}

	e.mu.Lock()
	for _, t := range loaded {
		e.register(t)
	}
	e.mu.Unlock()

	e.logger.Info("workflow templates loaded", "dir", dir, "count", len(loaded))
	return len(loaded), nil
}

func validateTemplate(t domain.WorkflowTemplate) error {
	if len(t.Phases) == 0 {
		return fmt.Errorf("template %q has no phases", t.Name)
	}
	for i, p := range t.Phases {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("template %q phase %d: name is required", t.Name, i)
		}
		if p.Hours < 0 {
			return fmt.Errorf("template %q phase %q: negative hours", t.Name, p.Name)
		}
	}
	return nil
}

// Template returns a template by name.
func (e *TemplateEngine) Template(name string) (domain.WorkflowTemplate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[name]
	if !ok {
		return domain.WorkflowTemplate{}, domain.NewSubSystemError("template", "TemplateEngine.Template", domain.ErrNotFound, name)
	}
	return t, nil
}

// Templates lists all templates sorted by name.
func (e *TemplateEngine) Templates() []domain.WorkflowTemplate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.WorkflowTemplate, 0, len(e.templates))
	for _, t := range e.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Select picks the first template (in registration order) whose keywords
// appear in the task text, falling back by complexity.
func (e *TemplateEngine) Select(title, description string, complexity domain.Complexity) domain.WorkflowTemplate {
	text := normalize(title, description)

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, name := range e.order {
		t := e.templates[name]
		for _, kw := range t.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return t
			}
		}
	}

	fallback := TemplateFullStackFeature
	if complexity == domain.ComplexitySimple {
		fallback = TemplateBugFix
	}
	return e.templates[fallback]
}

// Customize resolves "auto" agents and scales phase hours by complexity.
func (e *TemplateEngine) Customize(t domain.WorkflowTemplate, analysis domain.TaskAnalysis) []domain.PlanPhase {
	auto := e.defaultAgent
	if len(analysis.RequiredAgents) > 0 && analysis.RequiredAgents[0].Agent != "" {
		auto = analysis.RequiredAgents[0].Agent
	}
	mult := analysis.Complexity.DurationMultiplier()

	phases := make([]domain.PlanPhase, 0, len(t.Phases))
	for _, p := range t.Phases {
		agent := p.Agent
		if domain.IsAutoAgent(agent) {
			agent = auto
		}
		phases = append(phases, domain.PlanPhase{
			Name:           p.Name,
			Agent:          agent,
			Description:    p.Description,
			EstimatedHours: p.Hours * mult,
		})
	}
	return phases
}

// Plan selects and customizes a template for an analyzed task.
func (e *TemplateEngine) Plan(analysis domain.TaskAnalysis) domain.Plan {
	return e.planFrom(e.Select(analysis.Title, analysis.Description, analysis.Complexity), analysis)
}

// PlanWith builds a plan from the named template. An empty name selects one
// from the task text, as Plan does.
func (e *TemplateEngine) PlanWith(analysis domain.TaskAnalysis, name string) (domain.Plan, error) {
	if name == "" {
		return e.Plan(analysis), nil
	}
	t, err := e.Template(name)
	if err != nil {
		return domain.Plan{}, err
	}
	return e.planFrom(t, analysis), nil
}

func (e *TemplateEngine) planFrom(t domain.WorkflowTemplate, analysis domain.TaskAnalysis) domain.Plan {
	return domain.Plan{
		Title:       analysis.Title,
		Description: analysis.Description,
		Template:    t.Name,
		Priority:    analysis.Priority,
		Complexity:  analysis.Complexity,
		Phases:      e.Customize(t, analysis),
	}
}

// Decompose turns a plan into sub-tasks forming a linear chain: each sub-task
// depends only on the one before it.
func (e *TemplateEngine) Decompose(plan domain.Plan) []domain.SubTask {
	subtasks := make([]domain.SubTask, 0, len(plan.Phases))
	var prev string
	for i, p := range plan.Phases {
		st := domain.SubTask{
			ID:             fmt.Sprintf("step-%02d", i+1),
			Title:          p.Name,
			Agent:          p.Agent,
			EstimatedHours: p.EstimatedHours,
		}
		if prev != "" {
			st.DependsOn = []string{prev}
		}
		subtasks = append(subtasks, st)
		prev = st.ID
	}
	return subtasks
}
