package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"keygate/internal/app"
	"keygate/internal/config"
	"keygate/internal/infrastructure"
	"keygate/internal/registry"
	"keygate/pkg/contracts"
	"keygate/pkg/contracts/domain"
)

type rootOptions struct {
	configPath string
	stateDir   string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "keygatectl",
		Short:        "Administer offline activation state",
		Long:         `keygatectl lints code registry bundles before they are embedded, and inspects or resets the activation record of a local installation.`,
		Version:      contracts.Version,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate(contracts.GetFullVersionString() + "\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (default: KEYGATE_CONFIG or ./keygate.yaml)")
	cmd.PersistentFlags().StringVar(&opts.stateDir, "state-dir", "", "Override the activation state directory")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level to stderr")

	cmd.AddCommand(
		newRegistryCommand(),
		newStatusCommand(opts),
		newCheckCommand(opts),
		newResetCommand(opts),
	)

	return cmd
}

func newRegistryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Code registry tools",
	}

	lint := &cobra.Command{
		Use:   "lint <file>",
		Short: "Validate a registry bundle",
		Long:  `Parse a registry bundle with the same rules the host applies at startup and list the codes it defines.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadFile(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d codes\n", filepath.Base(args[0]), reg.Len())
			for _, code := range reg.Codes() {
				fmt.Fprintf(out, "  %-24s %-14s %s\n", code.Code, code.Type, describeLimits(code))
			}
			return nil
		},
	}

	cmd.AddCommand(lint)
	return cmd
}

func describeLimits(code domain.ActivationCode) string {
	var parts []string
	if code.TimeLimit != nil {
		parts = append(parts, "time="+registry.FormatLimit(*code.TimeLimit))
	}
	if code.UsageLimit != nil {
		parts = append(parts, fmt.Sprintf("uses=%d", *code.UsageLimit))
	}
	if code.RequiresBinding() {
		parts = append(parts, "device-bound")
	}
	return strings.Join(parts, " ")
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the activation status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := opts.openStack(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()

			status, err := stack.Status.Status(cmd.Context())
			if err != nil {
				return err
			}

			state := domain.StateNotActivated
			if status != nil {
				state = status.State
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				State  domain.ActivationState   `json:"state"`
				Status *domain.ActivationStatus `json:"status,omitempty"`
			}{state, status})
		},
	}
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run a launch check and record the clock sighting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := opts.openStack(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()

			result, err := stack.Validator.Check(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.String())
			if !result.OK() {
				return fmt.Errorf("access denied: %s", result)
			}
			return nil
		},
	}
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the activation record",
		Long:  `Delete the activation record and its witness so the installation can be activated again. The clock sighting and usage count are lost.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.New("refusing to reset without --yes")
			}

			stack, err := opts.openStack(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()

			if err := stack.Store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "activation record cleared")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm the reset")
	return cmd
}

// openStack loads the host configuration and opens the same store the host uses
func (o *rootOptions) openStack(cmd *cobra.Command) (*app.Stack, error) {
	cfg, err := config.LoadFrom(o.resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if o.stateDir != "" {
		abs, err := filepath.Abs(o.stateDir)
		if err != nil {
			return nil, err
		}
		cfg.Activation.StateDir = abs
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := infrastructure.NewLogger(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})

	return app.NewStack(cfg.Activation, logger)
}

func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.ConfigFilePath()
}
