package analysis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/geowatch/geowatch/internal/earthengine"
	"github.com/geowatch/geowatch/internal/geometry"
	"github.com/geowatch/geowatch/internal/job"
)

// Deforestation defaults.
const (
	DefaultNDVIDropThreshold = -0.1

	deforestationRecentDays   = 6
	deforestationPreviousDays = 6
	deforestationScale        = 30

	bandNDVI = "NDVI"
)

var _ job.Analyzer = (*Deforestation)(nil)

// Deforestation measures the mean NDVI change between the last two six-day
// windows.
type Deforestation struct {
	backend
	windows job.WindowPolicy
}

// NewDeforestation creates the deforestation analysis.
func NewDeforestation(eval Evaluator, logger zerolog.Logger) *Deforestation {
	return &Deforestation{backend: backend{eval: eval, logger: logger}, windows: DeforestationWindows}
}

// Analyze implements job.Analyzer.
func (a *Deforestation) Analyze(ctx context.Context, in job.Input) (*job.Outcome, error) {
	periods := a.windows(in.Now)
	out := &job.Outcome{Periods: periods}

	region, err := earthengine.GeometryFromRegion(in.Region)
	if err != nil {
		return out, err
	}

	s2 := earthengine.LoadImageCollection(S2Collection).FilterBounds(region)
	previous := indexComposite(s2, periods.Previous, region, bandNIR, bandRed, bandNDVI)
	recent := indexComposite(s2, periods.Recent, region, bandNIR, bandRed, bandNDVI)

	stats, err := a.compute(ctx, "ndvi_change",
		recent.Subtract(previous).ReduceRegion(earthengine.MeanReducer(), region, deforestationScale))
	if err != nil {
		return out, err
	}
	change, err := dictFloat(stats, bandNDVI)
	if err != nil {
		return out, err
	}
	if change == nil {
		return out, job.DataUnavailableError("Could not calculate mean NDVI change. No valid pixels found in the region "+
			"for the specified time periods after cloud masking. Try adjusting dates, buffer size (%s), or check region coordinates.",
			bufferLabel(in.Region))
	}

	out.Metric = change
	out.Measurements.MeanNDVIChange = change

	a.logger.Info().Float64("mean_ndvi_change", *change).Msg("deforestation analysis complete")
	return out, nil
}

func bufferLabel(r geometry.Region) string {
	if r.EffectiveBuffer == nil {
		return "none"
	}
	return fmt.Sprintf("%dm", *r.EffectiveBuffer)
}
