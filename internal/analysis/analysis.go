// Package analysis implements the environmental analyses on top of the Earth
// Engine graph builder. Each analysis builds its computation graph, asks the
// backend to evaluate it and interprets the result into a job.Outcome.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/geowatch/geowatch/internal/earthengine"
	"github.com/geowatch/geowatch/internal/job"
)

// Evaluator runs graphs on the backend. *earthengine.Client implements it.
type Evaluator interface {
	Compute(ctx context.Context, step string, v earthengine.Value) (any, error)
	ThumbnailURL(ctx context.Context, step string, img earthengine.Image, p earthengine.ThumbnailParams) (string, error)
}

// DialFunc authenticates with the credentials file and returns an evaluator.
type DialFunc func(ctx context.Context, credentialsPath string) (Evaluator, error)

// Defaults for Settings.
const (
	DefaultFirePointBuffer = 10000
)

// DefaultGlacierFallbackYears are the baseline offsets tried, in order, when
// the primary glacier baseline has no usable composite.
var DefaultGlacierFallbackYears = []int{8, 9, 11, 12}

// Settings configures the analyses.
type Settings struct {
	Dial   DialFunc
	Logger zerolog.Logger

	// FirePointBuffer replaces buffer_meters for fire point regions.
	FirePointBuffer int

	// GlacierFallbackYears lists alternative baseline offsets in years.
	GlacierFallbackYears []int
}

// Descriptors returns the runner configuration of every analysis.
func Descriptors(s Settings) map[job.Kind]job.Descriptor {
	if s.FirePointBuffer <= 0 {
		s.FirePointBuffer = DefaultFirePointBuffer
	}
	if s.GlacierFallbackYears == nil {
		s.GlacierFallbackYears = DefaultGlacierFallbackYears
	}

	connect := func(kind job.Kind, build func(Evaluator, zerolog.Logger) job.Analyzer) func(context.Context, string) (job.Analyzer, error) {
		logger := s.Logger.With().Str("analysis_type", string(kind)).Logger()
		return func(ctx context.Context, credentialsPath string) (job.Analyzer, error) {
			if s.Dial == nil {
				return nil, errors.New("no backend configured")
			}
			eval, err := s.Dial(ctx, credentialsPath)
			if err != nil {
				return nil, err
			}
			return build(eval, logger), nil
		}
	}

	fallback := append([]int(nil), s.GlacierFallbackYears...)

	return map[job.Kind]job.Descriptor{
		job.KindCoastalErosion: {
			Kind:             job.KindCoastalErosion,
			ThresholdField:   job.FieldThreshold,
			DefaultThreshold: DefaultShorelineRetreatThreshold,
			Fields: []string{
				job.FieldThreshold,
				job.KeyShorelineRetreatMeters,
				job.KeyRecentPeriodStart, job.KeyRecentPeriodEnd,
				job.KeyBaselinePeriodStart, job.KeyBaselinePeriodEnd,
			},
			Alert:   func(m, t float64) bool { return math.Abs(m) > t },
			Connect: connect(job.KindCoastalErosion, func(eval Evaluator, logger zerolog.Logger) job.Analyzer {
				return NewCoastalErosion(eval, logger)
			}),
		},
		job.KindDeforestation: {
			Kind:             job.KindDeforestation,
			ThresholdField:   job.FieldThreshold,
			DefaultThreshold: DefaultNDVIDropThreshold,
			Fields: []string{
				job.FieldThreshold,
				job.KeyMeanNDVIChange,
				job.KeyRecentPeriodStart, job.KeyRecentPeriodEnd,
				job.KeyPreviousPeriodStart, job.KeyPreviousPeriodEnd,
			},
			Alert:   func(m, t float64) bool { return m < t },
			Connect: connect(job.KindDeforestation, func(eval Evaluator, logger zerolog.Logger) job.Analyzer {
				return NewDeforestation(eval, logger)
			}),
		},
		job.KindFire: {
			Kind:             job.KindFire,
			ThresholdField:   job.FieldDaysBack,
			DefaultThreshold: DefaultDaysBack,
			FixedPointBuffer: s.FirePointBuffer,
			Fields: []string{
				job.FieldDaysBack,
				job.KeyActiveFireCount,
				job.KeyFires,
				job.KeyRecentPeriodStart, job.KeyRecentPeriodEnd,
			},
			Alert:   func(m, _ float64) bool { return m > 0 },
			Connect: connect(job.KindFire, func(eval Evaluator, logger zerolog.Logger) job.Analyzer {
				return NewFire(eval, logger)
			}),
		},
		job.KindFlooding: {
			Kind:             job.KindFlooding,
			ThresholdField:   job.FieldThresholdPercent,
			DefaultThreshold: DefaultFloodThresholdPercent,
			Fields: []string{
				job.FieldThresholdPercent,
				job.KeyFloodedAreaSqKm,
				job.KeyTotalAreaSqKm,
				job.KeyFloodedPercentage,
				job.KeyWaterDetectionThresholdDB,
				job.KeyRecentPeriodStart, job.KeyRecentPeriodEnd,
				job.KeyBaselinePeriodStart, job.KeyBaselinePeriodEnd,
				job.KeyStartImageURL, job.KeyEndImageURL,
			},
			Alert:   func(m, t float64) bool { return m > t },
			Connect: connect(job.KindFlooding, func(eval Evaluator, logger zerolog.Logger) job.Analyzer {
				return NewFlooding(eval, logger)
			}),
		},
		job.KindGlacier: {
			Kind:             job.KindGlacier,
			ThresholdField:   job.FieldThresholdPercent,
			DefaultThreshold: DefaultGlacierThresholdPercent,
			Fields: []string{
				job.FieldThresholdPercent,
				job.KeyBaselineAreaSqKm,
				job.KeyRecentAreaSqKm,
				job.KeyLossPercent,
				job.KeyRecentPeriodStart, job.KeyRecentPeriodEnd,
				job.KeyBaselinePeriodStart, job.KeyBaselinePeriodEnd,
				job.KeyStartImageURL, job.KeyEndImageURL,
			},
			Alert: func(m, t float64) bool { return m > t },
			Connect: connect(job.KindGlacier, func(eval Evaluator, logger zerolog.Logger) job.Analyzer {
				return NewGlacier(eval, logger, fallback)
			}),
		},
	}
}

// backend wraps an Evaluator with error classification and logging.
type backend struct {
	eval   Evaluator
	logger zerolog.Logger
}

func (b backend) compute(ctx context.Context, step string, v earthengine.Value) (any, error) {
	result, err := b.eval.Compute(ctx, step, v)
	if errors.Is(err, earthengine.ErrCredentials) {
		return nil, job.AuthenticationError(err)
	}
	if err != nil {
		return nil, job.AnalysisError(err)
	}
	return result, nil
}

// thumbnail renders a preview. Failures are logged and reported as nil.
func (b backend) thumbnail(ctx context.Context, step string, img earthengine.Image, p earthengine.ThumbnailParams) *string {
	url, err := b.eval.ThumbnailURL(ctx, step, img, p)
	if err != nil {
		b.logger.Warn().Err(err).Str("step", step).Msg("could not render preview")
		return nil
	}
	return &url
}

// Result decoding helpers. Backend numbers arrive as float64.

func asFloat(v any) (*float64, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return &n, nil
	}
	return nil, fmt.Errorf("expected a number, got %T", v)
}

func asCount(v any) (int, error) {
	f, err := asFloat(v)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, nil
	}
	return int(*f), nil
}

func asDict(v any) (map[string]any, error) {
	switch d := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return d, nil
	}
	return nil, fmt.Errorf("expected a dictionary, got %T", v)
}

func asStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// dictFloat reads key from a reduceRegion result. Missing and null are nil.
func dictFloat(v any, key string) (*float64, error) {
	d, err := asDict(v)
	if err != nil {
		return nil, err
	}
	return asFloat(d[key])
}

func orZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func ptr[T any](v T) *T { return &v }
