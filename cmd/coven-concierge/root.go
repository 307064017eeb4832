// ABOUTME: Cobra command tree for coven-concierge
// ABOUTME: serve, health, pack validate, token, and version subcommands share the --config flag

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389/coven-concierge/internal/config"
)

type rootOptions struct {
	configPath string
}

// resolveConfigPath returns the --config flag or the default location.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.DefaultPath()
}

func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := o.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "coven-concierge",
		Short:         "Conversational agent service for VS Agent and Matrix",
		Long:          "coven-concierge answers users over DIDComm (through a VS Agent) or Matrix, with menus, credential login, and retrieval-augmented answers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default $COVEN_CONCIERGE_CONFIG or ~/.config/coven/concierge.yaml)")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newHealthCmd(opts))
	rootCmd.AddCommand(newPackCmd())
	rootCmd.AddCommand(newTokenCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coven-concierge %s\n", version)
		},
	}
}
