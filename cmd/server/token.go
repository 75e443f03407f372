package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/batchbot/internal/config"
	"github.com/ashureev/batchbot/internal/identity"
)

func newTokenCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			tokens := identity.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.AllowedEmails)
			tok, err := tokens.Login(email)
			if err != nil {
				return fmt.Errorf("mint token for %s: %w", email, err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
			return err
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "caller email (must be allow-listed)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
