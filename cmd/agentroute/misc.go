package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"agentroute/internal/adapter/planfile"
	"agentroute/internal/infra/config"
)

func newAgentsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List configured agents with workload and breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				agents, err := a.agents.List(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{"agents": agents}
				if a.breaker != nil {
					states := make(map[string]string)
					for name, st := range a.breaker.States() {
						states[name] = st.String()
					}
					out["breakers"] = states
				}
				return outputJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newTemplatesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List workflow templates, built-in and loaded from templates.dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return outputJSON(cmd.OutOrStdout(), map[string]any{"templates": a.templates.Templates()})
			})
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Check a plan file against the plan schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := planfile.Load(args[0])
			if err != nil {
				return err
			}
			return outputJSON(cmd.OutOrStdout(), map[string]any{
				"valid":           true,
				"title":           plan.Title,
				"phases":          len(plan.Phases),
				"estimated_hours": plan.TotalHours(),
			})
		},
	}
}

func newEncryptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for use as an enc: config value",
		Long: fmt.Sprintf(`Encrypt prints an "enc:" value for server.token or executor.token.
The passphrase is read from %s. Without an argument the value is read
from the first line of stdin.`, config.MasterKeyEnv),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv(config.MasterKeyEnv)
			if passphrase == "" {
				return fmt.Errorf("%s is not set", config.MasterKeyEnv)
			}
			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read value: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return errors.New("empty value")
			}
			enc, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.EncPrefix+enc)
			return nil
		},
	}
}
