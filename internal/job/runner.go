package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/geowatch/geowatch/internal/geometry"
)

const instrumentationName = "github.com/geowatch/geowatch/internal/job"

// Recorder receives every envelope after it has been reported.
type Recorder interface {
	Record(ctx context.Context, env Envelope) error
}

// RunnerConfig holds configuration for a Runner.
type RunnerConfig struct {
	Descriptor Descriptor
	Logger     zerolog.Logger

	// Recorder is optional.
	Recorder Recorder

	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner executes the pipeline for one job kind.
type Runner struct {
	descriptor Descriptor
	logger     zerolog.Logger
	recorder   Recorder
	now        func() time.Time

	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRunner creates a runner for cfg.Descriptor.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Descriptor.Kind == "" {
		return nil, errors.New("descriptor kind is required")
	}
	if cfg.Descriptor.Connect == nil {
		return nil, fmt.Errorf("%s: descriptor has no Connect", cfg.Descriptor.Kind)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	meter := otel.Meter(instrumentationName)
	runs, err := meter.Int64Counter(
		"geowatch.analysis.runs",
		metric.WithDescription("Number of analyses run"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"geowatch.analysis.duration",
		metric.WithDescription("Duration of analyses in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Runner{
		descriptor: cfg.Descriptor,
		logger:     cfg.Logger.With().Str("analysis_type", string(cfg.Descriptor.Kind)).Logger(),
		recorder:   cfg.Recorder,
		now:        now,
		runs:       runs,
		duration:   duration,
	}, nil
}

// Descriptor returns the kind configuration the runner was built with.
func (r *Runner) Descriptor() Descriptor {
	return r.descriptor
}

// Run is the process entry point: args holds the credentials path, stdin the
// job and stdout receives exactly one envelope. It returns the exit code.
func (r *Runner) Run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) int {
	var env Envelope
	switch {
	case len(args) < 1 || args[0] == "":
		r.logger.Error().Msg(MsgMissingCredentials)
		env = BuildEnvelope(r.descriptor, defaultRequest(r.descriptor), nil, nil, ArgumentError())
	default:
		body, err := io.ReadAll(stdin)
		if err != nil {
			env = BuildEnvelope(r.descriptor, defaultRequest(r.descriptor), nil, nil, InputError(fmt.Errorf("reading input: %w", err)))
			break
		}
		env = r.Execute(ctx, args[0], body)
	}

	if err := Write(stdout, env); err != nil {
		r.logger.Error().Err(err).Msg("failed to write envelope")
		return 1
	}

	r.Record(ctx, env)
	return ExitCode(env)
}

// Execute runs one job body and returns its envelope. It never panics.
func (r *Runner) Execute(ctx context.Context, credentialsPath string, body []byte) (env Envelope) {
	start := time.Now()
	now := r.now()
	d := r.descriptor

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "analysis."+string(d.Kind))
	defer span.End()

	req := defaultRequest(d)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Interface("error", p).
				Str("region_id", req.RegionID).
				Str("stack", string(debug.Stack())).
				Msg("panic recovered")
			env = BuildEnvelope(d, req, nil, nil, fmt.Errorf("panic: %v", p))
		}
		r.observe(ctx, span, env, time.Since(start))
	}()

	if credentialsPath == "" {
		return BuildEnvelope(d, defaultRequest(d), nil, nil, ArgumentError())
	}

	req, err := DecodeRequest(body, d)
	if err != nil {
		r.logger.Error().Err(err).Str("region_id", req.RegionID).Msg("invalid job request")
		return BuildEnvelope(d, req, nil, nil, err)
	}

	buffer := req.BufferMeters
	if d.FixedPointBuffer > 0 {
		buffer = d.FixedPointBuffer
	}
	r.logger.Info().
		Str("region_id", req.RegionID).
		Float64(d.ThresholdField, req.Threshold).
		Int("buffer_meters", buffer).
		Msg("received job")

	region, err := geometry.Normalize(req.Geometry, buffer)
	if err != nil {
		r.logger.Error().Err(err).Str("region_id", req.RegionID).Msg("invalid geometry")
		return BuildEnvelope(d, req, nil, nil, GeometryError(err))
	}
	span.SetAttributes(
		attribute.String("geowatch.region_id", req.RegionID),
		attribute.String("geowatch.geometry_type", region.Kind),
	)

	analyzer, err := d.Connect(ctx, credentialsPath)
	if err != nil {
		var jobErr *Error
		if !errors.As(err, &jobErr) {
			jobErr = AuthenticationError(err)
		}
		r.logger.Error().Err(jobErr.Err).Str("region_id", req.RegionID).Msg("backend initialization failed")
		return BuildEnvelope(d, req, &region, nil, jobErr)
	}

	outcome, err := analyzer.Analyze(ctx, Input{
		Region:    region,
		Threshold: req.Threshold,
		Now:       now,
	})
	if err != nil {
		var jobErr *Error
		if errors.As(err, &jobErr) {
			r.logger.Error().Err(err).Str("region_id", req.RegionID).Msg("analysis failed")
		} else {
			r.logger.Error().Err(err).Str("region_id", req.RegionID).Msg("unexpected analysis error")
		}
	}
	return BuildEnvelope(d, req, &region, outcome, err)
}

// Record hands env to the configured recorder. Failures are logged only.
func (r *Runner) Record(ctx context.Context, env Envelope) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(ctx, env); err != nil {
		r.logger.Warn().Err(err).Str("region_id", env.RegionID).Msg("failed to record result")
	}
}

func (r *Runner) observe(ctx context.Context, span trace.Span, env Envelope, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("analysis_type", string(r.descriptor.Kind)),
		attribute.String("status", env.Status),
		attribute.Bool("alert_triggered", env.AlertTriggered),
	)
	r.runs.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)

	if env.Err() != nil {
		span.RecordError(env.Err())
		span.SetStatus(codes.Error, env.Message)
	}

	r.logger.Info().
		Str("region_id", env.RegionID).
		Str("status", env.Status).
		Bool("alert_triggered", env.AlertTriggered).
		Dur("duration", elapsed).
		Msg("analysis finished")
}
