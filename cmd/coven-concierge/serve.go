// ABOUTME: serve and health subcommands
// ABOUTME: serve prints the startup banner, configures logging, and runs the server until interrupted

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-concierge/internal/config"
	"github.com/2389/coven-concierge/internal/server"
)

const banner = `
  ___ ___  _ __   ___ ___ _ __ __ _  ___
 / __/ _ \| '_ \ / __/ _ \ '__/ _' |/ _ \
| (_| (_) | | | | (_|  __/ | | (_| |  __/
 \___\___/|_| |_|\___\___|_|  \__, |\___|
                              |___/
`

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the concierge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := opts.loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	printStartupInfo(cfg, configPath)

	logger.Info("starting coven-concierge",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"vs_agent", cfg.VSAgent.Enabled,
		"matrix", cfg.Matrix.Enabled,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}

func printStartupInfo(cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("Database", cfg.Database.Path)
	if cfg.AgentPack.Path != "" {
		line("Pack", cfg.AgentPack.Path)
	}
	if cfg.VSAgent.Enabled {
		line("HTTP", cfg.Server.HTTPAddr)
		line("VS Agent", cfg.VSAgent.AdminURL)
	}
	if cfg.Matrix.Enabled {
		line("Matrix", cfg.Matrix.UserID+" @ "+cfg.Matrix.Homeserver)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("%-10s ", "Tailscale:")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Auth.JWTSecret == "" && cfg.VSAgent.Enabled {
		yellow.Println("    ! webhook auth disabled (no auth.jwt_secret)")
	}
	fmt.Println()
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that a running concierge is ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return checkReady(cmd.Context(), "http://"+cfg.Server.HTTPAddr, cmd)
		},
	}
}

func checkReady(ctx context.Context, baseURL string, cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "healthy")
	return nil
}
