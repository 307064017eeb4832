// ABOUTME: token subcommand
// ABOUTME: Mints the bearer token the VS Agent presents when calling the webhooks

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-concierge/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject   string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate a webhook bearer token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}

			verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
			token, err := verifier.Generate(subject, expiresIn)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "vs-agent", "token subject")
	cmd.Flags().DurationVar(&expiresIn, "expires", 0, "token lifetime (0 never expires)")
	return cmd
}
