package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/geowatch/geowatch/internal/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for serve mode",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSigningKey == "" {
				return errors.New("GEOWATCH_JWT_SIGNING_KEY is not set")
			}

			tokens := auth.NewJWTService(auth.JWTConfig{SigningKey: cfg.Server.JWTSigningKey})
			token, expiresAt, err := tokens.GenerateAccessToken(subject, ttl)
			if err != nil {
				return err
			}

			a.logger.Info().
				Str("subject", subject).
				Time("expires_at", expiresAt).
				Msg("token issued")
			_, err = fmt.Fprintln(a.stdout, token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "calling system the token identifies")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
