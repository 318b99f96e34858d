package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/geowatch/geowatch/internal/analysis"
	"github.com/geowatch/geowatch/internal/config"
	"github.com/geowatch/geowatch/internal/database"
	"github.com/geowatch/geowatch/internal/earthengine"
	"github.com/geowatch/geowatch/internal/job"
	"github.com/geowatch/geowatch/internal/provider/resilience"
	"github.com/geowatch/geowatch/internal/results"
	"github.com/geowatch/geowatch/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newAnalysisCmd(a *app, kind job.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:     kind.CommandName() + " <credentials_file_path>",
		Aliases: job.Aliases(kind),
		Short:   "Run the " + string(kind) + " analysis on the job read from stdin",
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := a.load()
			if err != nil {
				a.logger.Error().Err(err).Msg("invalid configuration")
				return a.report(job.ArgumentEnvelope(job.ConfigurationError(err)))
			}

			env := newEnvironment(ctx, cfg, a.logger, telemetry.Config{})
			defer env.close()

			runner, err := env.runner(kind)
			if err != nil {
				a.logger.Error().Err(err).Str("analysis", string(kind)).Msg("could not build runner")
				return a.report(job.ArgumentEnvelope(job.ConfigurationError(err)))
			}
			a.exitCode = runner.Run(ctx, args, a.stdin, a.stdout)
			return nil
		},
	}
	cmd.SetFlagErrorFunc(a.reportFlagError)
	return cmd
}

// environment is the wiring shared by one-shot and serve mode: telemetry,
// the backend transport with its registry, and the result recorders. Every
// dial reuses the same transport, so its circuit breaker spans requests.
type environment struct {
	cfg      *config.Config
	logger   zerolog.Logger
	registry *resilience.Registry
	backend  *resilience.Client
	recorder job.Recorder
	database *pgxpool.Pool
	store    *results.PostgresStore

	descriptors map[job.Kind]job.Descriptor
	closers     []func(context.Context)
}

// newEnvironment never fails: optional integrations that cannot start are
// logged and left out, so they cannot change the reported envelope.
func newEnvironment(ctx context.Context, cfg *config.Config, logger zerolog.Logger, tc telemetry.Config) *environment {
	e := &environment{
		cfg:      cfg,
		logger:   logger,
		registry: resilience.NewRegistry(),
	}
	e.backend = earthengine.NewHTTPClient(cfg.Backend.Timeout, uint64(cfg.Backend.MaxRetries), e.registry)

	tc.ServiceName = serviceName
	tc.ServiceVersion = Version
	tc.Environment = cfg.Environment
	tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tc.Enabled = cfg.Telemetry.Enabled
	if tp, err := telemetry.Init(ctx, tc); err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
	} else {
		e.closers = append(e.closers, func(ctx context.Context) {
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to shutdown telemetry")
			}
		})
	}

	var recorders results.Multi
	if cfg.Database.Enabled() {
		if store := e.connectStore(ctx); store != nil {
			recorders = append(recorders, store)
		}
	}
	if cfg.Alerts.Enabled() {
		publisher, err := results.NewAlertPublisher(ctx, results.AlertPublisherConfig{
			ProjectID: cfg.Alerts.ProjectID,
			Topic:     cfg.Alerts.Topic,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn().Err(err).Str("topic", cfg.Alerts.Topic).Msg("alert publishing disabled")
		} else {
			recorders = append(recorders, publisher)
			e.closers = append(e.closers, func(context.Context) {
				if err := publisher.Close(); err != nil {
					logger.Warn().Err(err).Msg("failed to close alert publisher")
				}
			})
		}
	}
	if len(recorders) > 0 {
		e.recorder = recorders
	}

	e.descriptors = analysis.Descriptors(analysis.Settings{
		Dial:                 e.dial,
		Logger:               logger,
		FirePointBuffer:      cfg.Analysis.FirePointBufferMeters,
		GlacierFallbackYears: cfg.Analysis.GlacierFallbackYears,
	})
	return e
}

func (e *environment) connectStore(ctx context.Context) *results.PostgresStore {
	pool, err := database.Connect(ctx, e.cfg.Database)
	if err != nil {
		e.logger.Warn().Err(err).Msg("result store disabled")
		return nil
	}
	e.database = pool
	e.closers = append(e.closers, func(context.Context) { pool.Close() })

	store := results.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("result store disabled")
		return nil
	}
	e.logger.Debug().Msg("result store connected")
	e.store = store
	return store
}

func (e *environment) dial(ctx context.Context, credentialsPath string) (analysis.Evaluator, error) {
	client, err := earthengine.Dial(ctx, earthengine.Config{
		ProjectID:       e.cfg.Backend.ProjectID,
		BaseURL:         e.cfg.Backend.URL,
		CredentialsPath: credentialsPath,
		HTTPClient:      e.backend,
		Logger:          e.logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (e *environment) runner(kind job.Kind) (*job.Runner, error) {
	return job.NewRunner(job.RunnerConfig{
		Descriptor: e.descriptors[kind],
		Logger:     e.logger,
		Recorder:   e.recorder,
	})
}

// close releases everything in reverse order of acquisition.
func (e *environment) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i](ctx)
	}
}
