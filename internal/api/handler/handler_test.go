package handler_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/geowatch/geowatch/internal/job"
)

var fixedNow = time.Date(2025, 4, 20, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func floodingDescriptor(analyzer job.Analyzer) job.Descriptor {
	return job.Descriptor{
		Kind:             job.KindFlooding,
		ThresholdField:   job.FieldThresholdPercent,
		DefaultThreshold: 5.0,
		Fields: []string{
			job.FieldThresholdPercent,
			job.KeyFloodedPercentage,
			job.KeyRecentPeriodStart,
			job.KeyRecentPeriodEnd,
		},
		Alert: func(metric, threshold float64) bool { return metric > threshold },
		Connect: func(context.Context, string) (job.Analyzer, error) {
			return analyzer, nil
		},
	}
}

type fakeRecorder struct {
	envs []job.Envelope
	ctx  context.Context
}

func (f *fakeRecorder) Record(ctx context.Context, env job.Envelope) error {
	f.envs = append(f.envs, env)
	f.ctx = ctx
	return nil
}

func newRunner(t *testing.T, d job.Descriptor, rec job.Recorder) *job.Runner {
	t.Helper()
	runner, err := job.NewRunner(job.RunnerConfig{
		Descriptor: d,
		Logger:     zerolog.Nop(),
		Recorder:   rec,
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return runner
}
