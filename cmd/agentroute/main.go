package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.4.0"

// options are the persistent flags shared by every command.
type options struct {
	configPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentroute: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "agentroute",
		Short: "Route development tasks to specialized agents and run multi-phase workflows",
		Long: `agentroute analyzes development tasks, routes them to the best suited agent,
and drives multi-phase workflows through a pool of agents with quality gates
and progress milestones.

Command output is JSON on stdout. Logs go to the configured logger output.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "path to config file (env AGENTROUTE_CONFIG)")

	root.AddCommand(newAnalyzeCommand(opts))
	root.AddCommand(newRouteCommand(opts))
	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newWorkflowsCommand(opts))
	root.AddCommand(newAgentsCommand(opts))
	root.AddCommand(newTemplatesCommand(opts))
	root.AddCommand(newValidateCommand())
	root.AddCommand(newEncryptCommand())
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("AGENTROUTE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// withApp builds the application for one command invocation and closes it
// when fn returns.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "agentroute: shutdown: %v\n", err)
		}
	}()
	return fn(ctx, a)
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
