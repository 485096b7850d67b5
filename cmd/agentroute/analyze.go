package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agentroute/internal/domain"
)

// taskFlags describe a task given on the command line.
type taskFlags struct {
	title       string
	description string
	template    string
}

func (f *taskFlags) register(cmd *cobra.Command, withTemplate bool) {
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "task title")
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "task description")
	if withTemplate {
		cmd.Flags().StringVar(&f.template, "template", "", "workflow template (default: best match for the task text)")
	}
}

func newAnalyzeCommand(opts *options) *cobra.Command {
	var task taskFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a task and show the workflow plan it would get",
		Example: `  agentroute analyze --title "Fix login crash" --description "Users see a 500 after submitting the form"
  agentroute analyze -t "Document the public API" --template documentation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				analysis, plan, err := a.plan(ctx, task.title, task.description, task.template)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), map[string]any{
					"analysis":  analysis,
					"plan":      plan,
					"sub_tasks": a.templates.Decompose(plan),
				})
			})
		},
	}
	task.register(cmd, true)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newRouteCommand(opts *options) *cobra.Command {
	var (
		task          taskFlags
		priority      string
		complexity    string
		hours         float64
		deadline      string
		previousAgent string
		strategy      string
		fallback      []string
	)
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Pick the best agent for a task",
		Example: `  agentroute route --title "Fix flaky regression tests" --priority high
  agentroute route -t "Set up CI pipeline" --strategy load_balanced --fallback round_robin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc := domain.RoutingContext{
				Title:          task.title,
				Description:    task.description,
				EstimatedHours: hours,
				PreviousAgent:  previousAgent,
				Priority:       domain.PriorityMedium,
				Complexity:     domain.ComplexityModerate,
			}
			var err error
			if priority != "" {
				if rc.Priority, err = domain.ParsePriority(priority); err != nil {
					return err
				}
			}
			if complexity != "" {
				if rc.Complexity, err = domain.ParseComplexity(complexity); err != nil {
					return err
				}
			}
			if deadline != "" {
				t, err := time.Parse(time.RFC3339, deadline)
				if err != nil {
					return &domain.ValidationError{Field: "deadline", Reason: fmt.Sprintf("not an RFC 3339 time: %q", deadline)}
				}
				rc.Deadline = &t
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				kinds, err := a.strategies(strategy, fallback)
				if err != nil {
					return err
				}
				decision, err := a.router.RouteWithFallback(ctx, kinds, rc)
				if err != nil {
					return err
				}
				out := map[string]any{"decision": decision}
				if agent, err := a.agents.Get(ctx, decision.Agent); err == nil {
					out["predicted_completion"] = a.router.PredictCompletion(*agent, rc)
				}
				return outputJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	task.register(cmd, false)
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium, high or urgent")
	cmd.Flags().StringVar(&complexity, "complexity", "", "simple, moderate, complex or epic")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated effort in hours")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline as an RFC 3339 time")
	cmd.Flags().StringVar(&previousAgent, "previous-agent", "", "agent that handled the preceding work")
	cmd.Flags().StringVar(&strategy, "strategy", "", "routing strategy (default from config)")
	cmd.Flags().StringSliceVar(&fallback, "fallback", nil, "fallback strategies tried after a routing failure")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

// strategies returns the requested strategy chain, or the configured one
// when primary is empty.
func (a *app) strategies(primary string, fallback []string) ([]domain.StrategyKind, error) {
	if strings.TrimSpace(primary) == "" {
		return append([]domain.StrategyKind{a.strategy}, a.fallback...), nil
	}
	kinds := make([]domain.StrategyKind, 0, len(fallback)+1)
	for _, name := range append([]string{primary}, fallback...) {
		k, err := domain.ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
