package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentroute/internal/adapter/planfile"
	"agentroute/internal/domain"
)

func newRunCommand(opts *options) *cobra.Command {
	var (
		task          taskFlags
		resumeID      string
		retryInterval time.Duration
		maxRetries    int
		quiet         bool
	)
	cmd := &cobra.Command{
		Use:   "run [plan-file]",
		Short: "Create and run a workflow from a plan file or task text",
		Long: `Run creates a workflow and drives it to a terminal state.

The plan comes from a YAML or JSON plan file, or is generated from --title and
--description. With --resume an existing workflow is continued instead.
A phase whose agent is busy or unreachable is retried every --retry-interval.
Progress events are printed to stderr unless --quiet is set.`,
		Example: `  agentroute run plan.yaml
  agentroute run --title "Add OAuth login" --description "Google and GitHub providers"
  agentroute run --resume 01J9Z3C8Q4W6Y2K7M5N1P0R3ST`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, set := range []bool{len(args) == 1, task.title != "", resumeID != ""} {
				if set {
					sources++
				}
			}
			if sources != 1 {
				return errors.New("give exactly one of a plan file, --title or --resume")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				id := resumeID
				if id == "" {
					plan, err := runPlan(ctx, a, args, task)
					if err != nil {
						return err
					}
					wf, err := a.orch.Create(ctx, plan)
					if err != nil {
						return err
					}
					id = wf.ID
				}
				if !quiet {
					// Close drains the bus, so late events are still printed.
					a.bus.SubscribeAll(printEvent(cmd.ErrOrStderr(), id))
				}

				wf, err := runUntilSettled(ctx, a, id, retryInterval, maxRetries)
				if wf != nil {
					if outErr := outputJSON(cmd.OutOrStdout(), wf); outErr != nil && err == nil {
						err = outErr
					}
				}
				return err
			})
		},
	}
	task.register(cmd, true)
	cmd.Flags().StringVar(&resumeID, "resume", "", "continue the workflow with this id")
	cmd.Flags().DurationVar(&retryInterval, "retry-interval", 30*time.Second, "wait between attempts on a deferred phase")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 20, "attempts on a deferred phase before giving up (0 = no limit)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress events")
	return cmd
}

func runPlan(ctx context.Context, a *app, args []string, task taskFlags) (domain.Plan, error) {
	if len(args) == 1 {
		return planfile.Load(args[0])
	}
	_, plan, err := a.plan(ctx, task.title, task.description, task.template)
	return plan, err
}

// runUntilSettled runs the workflow, retrying while its current phase is
// deferred. A deferred workflow stays RUNNING in the store; a terminal one
// is returned at once.
func runUntilSettled(ctx context.Context, a *app, id string, interval time.Duration, maxRetries int) (*domain.WorkflowExecution, error) {
	for attempt := 0; ; attempt++ {
		wf, err := a.orch.Run(ctx, id)
		if err == nil || !domain.IsRetryableError(err) || (wf != nil && wf.Status.Terminal()) {
			return wf, err
		}
		if maxRetries > 0 && attempt >= maxRetries {
			return wf, fmt.Errorf("gave up after %d retries: %w", attempt, err)
		}
		a.log.Warn("phase deferred, retrying", "workflow_id", id, "error", err, "retry_in", interval)

		select {
		case <-ctx.Done():
			return wf, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// printEvent renders lifecycle events of one workflow as progress lines.
func printEvent(w io.Writer, workflowID string) domain.EventHandler {
	return func(_ context.Context, ev domain.Event) {
		if ev.WorkflowID != workflowID {
			return
		}
		ts := ev.Timestamp.Format(time.TimeOnly)
		switch ev.Type {
		case domain.EventTaskStarted, domain.EventTaskCompleted, domain.EventTaskFailed:
			var p domain.TaskPayload
			if err := ev.Decode(&p); err != nil {
				return
			}
			line := fmt.Sprintf("%s %-18s #%d %s (%s)", ts, ev.Type, p.TaskIndex+1, p.Title, p.Agent)
			if p.Error != "" {
				line += ": " + p.Error
			}
			fmt.Fprintln(w, line)
		case domain.EventMilestoneReached:
			var p domain.MilestonePayload
			if err := ev.Decode(&p); err != nil {
				return
			}
			fmt.Fprintf(w, "%s %-18s %d%%\n", ts, ev.Type, p.Milestone)
		default:
			var p domain.WorkflowPayload
			if err := ev.Decode(&p); err != nil {
				return
			}
			line := fmt.Sprintf("%s %-18s %s %d/%d tasks", ts, ev.Type, p.TaskName, p.CompletedTasks, p.TotalTasks)
			if p.Error != "" {
				line += ": " + p.Error
			}
			fmt.Fprintln(w, line)
		}
	}
}
