package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agentroute/internal/domain"
)

func newWorkflowsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"wf"},
		Short:   "Inspect and manage stored workflows",
	}
	cmd.AddCommand(newWorkflowsListCommand(opts))
	cmd.AddCommand(newWorkflowsShowCommand(opts))
	cmd.AddCommand(newWorkflowsCancelCommand(opts))
	cmd.AddCommand(newWorkflowsDeleteCommand(opts))
	cmd.AddCommand(newWorkflowsCleanupCommand(opts))
	return cmd
}

func newWorkflowsListCommand(opts *options) *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows, newest first",
		Example: `  agentroute workflows list
  agentroute workflows list --status running --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.ListFilter{Limit: limit, Offset: offset}
			if status != "" {
				filter.Status = domain.WorkflowStatus(strings.ToLower(status))
				if !filter.Status.Valid() {
					return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
				}
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				wfs, err := a.orch.List(ctx, filter)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), map[string]any{"workflows": wfs, "count": len(wfs)})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only workflows in this status (pending, running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of workflows")
	cmd.Flags().IntVar(&offset, "offset", 0, "workflows to skip")
	return cmd
}

func newWorkflowsShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show one workflow with its phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				wf, err := a.orch.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), wf)
			})
		},
	}
}

func newWorkflowsCancelCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Cancel a pending or running workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				wf, err := a.orch.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), wf)
			})
		},
	}
}

func newWorkflowsDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <workflow-id>",
		Short: "Delete a finished workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.orch.Delete(ctx, args[0]); err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), map[string]any{"deleted": args[0]})
			})
		},
	}
}

func newWorkflowsCleanupCommand(opts *options) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove finished workflows older than the retention period",
		Example: `  agentroute workflows cleanup
  agentroute workflows cleanup --older-than 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				age := olderThan
				if age == 0 {
					age = a.cfg.Storage.Retention
				}
				if age <= 0 {
					return fmt.Errorf("no retention configured: pass --older-than")
				}
				n, err := a.store.CleanupOlderThan(ctx, age)
				if err != nil {
					return err
				}
				return outputJSON(cmd.OutOrStdout(), map[string]any{"removed": n, "older_than": age.String()})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold (default storage.retention)")
	return cmd
}
