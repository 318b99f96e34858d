package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/geowatch/geowatch/internal/api"
	"github.com/geowatch/geowatch/internal/api/handler"
	"github.com/geowatch/geowatch/internal/api/middleware"
	"github.com/geowatch/geowatch/internal/auth"
	"github.com/geowatch/geowatch/internal/job"
	"github.com/geowatch/geowatch/internal/telemetry"
)

// Analyses run several backend computations in sequence, each bounded by
// the backend timeout, so responses can take many minutes.
const serveWriteTimeout = 30 * time.Minute

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve analyses over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			log := a.logger
			ctx := cmd.Context()

			env := newEnvironment(ctx, cfg, log, telemetry.Config{MetricInterval: telemetry.DefaultMetricInterval})
			defer env.close()

			metrics, err := middleware.NewMetrics()
			if err != nil {
				return err
			}

			runners := make(map[job.Kind]handler.AnalysisRunner, len(job.Kinds()))
			for _, kind := range job.Kinds() {
				runner, err := env.runner(kind)
				if err != nil {
					return err
				}
				runners[kind] = runner
			}

			if cfg.Server.CredentialsFile == "" {
				log.Warn().Msg("GEOWATCH_CREDENTIALS_FILE is not set, every analysis will fail")
			}

			rc := api.RouterConfig{
				Version:         Version,
				BuildTime:       BuildTime,
				Logger:          log,
				Metrics:         metrics,
				Registry:        env.registry,
				Runners:         runners,
				CredentialsPath: cfg.Server.CredentialsFile,
				RateLimit: middleware.RateLimitConfig{
					RequestLimit: cfg.Server.RateLimit,
					WindowLength: time.Minute,
				},
			}
			if env.database != nil {
				rc.Database = env.database
			}
			if env.store != nil {
				rc.Results = env.store
			}
			if cfg.Server.JWTSigningKey != "" {
				rc.Tokens = auth.NewJWTService(auth.JWTConfig{SigningKey: cfg.Server.JWTSigningKey})
			} else {
				log.Warn().Msg("GEOWATCH_JWT_SIGNING_KEY is not set, analysis and result routes are unauthenticated")
			}

			server := &http.Server{
				Addr:              ":" + cfg.Server.Port,
				Handler:           api.NewRouter(rc),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      serveWriteTimeout,
				IdleTimeout:       60 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				log.Info().Str("addr", server.Addr).Msg("server listening")
				serveErr <- server.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			log.Info().Msg("server stopped")
			return nil
		},
	}
}
