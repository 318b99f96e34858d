package analysis

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/geowatch/geowatch/internal/earthengine"
	"github.com/geowatch/geowatch/internal/job"
)

// Glacier defaults.
const (
	DefaultGlacierThresholdPercent = 2.0

	// SnowIndexThreshold is the NDSI above which a pixel counts as ice.
	SnowIndexThreshold = 0.4

	glacierRecentDays          = 90
	glacierBaselineOffsetYears = 1
	glacierBaselineDays        = 6
	glacierScale               = 30

	bandNDSI = "NDSI"
)

var glacierPreview = earthengine.Visualization{Min: -1, Max: 1, Palette: []string{"black", "white", "lightblue"}}

var _ job.Analyzer = (*Glacier)(nil)

// Glacier measures the loss of ice-covered area against a baseline a year
// earlier, falling back to older baselines when that one has no data.
type Glacier struct {
	backend
	windows       job.WindowPolicy
	fallbackYears []int
}

// NewGlacier creates the glacier analysis. fallbackYears are tried in order.
func NewGlacier(eval Evaluator, logger zerolog.Logger, fallbackYears []int) *Glacier {
	return &Glacier{
		backend:       backend{eval: eval, logger: logger},
		windows:       GlacierWindows,
		fallbackYears: fallbackYears,
	}
}

// Analyze implements job.Analyzer.
func (a *Glacier) Analyze(ctx context.Context, in job.Input) (*job.Outcome, error) {
	periods := a.windows(in.Now)
	out := &job.Outcome{Periods: periods}

	region, err := earthengine.GeometryFromRegion(in.Region)
	if err != nil {
		return out, err
	}
	s2 := earthengine.LoadImageCollection(S2Collection).FilterBounds(region)

	recent, ok, err := a.composite(ctx, "recent", s2, periods.Recent, region)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, job.DataUnavailableError("No cloud-free data available for recent period. Cannot perform analysis.")
	}

	baseline, ok, err := a.composite(ctx, "baseline", s2, periods.Baseline, region)
	if err != nil {
		a.logger.Warn().Err(err).Msg("primary baseline failed")
		ok = false
	}
	if !ok {
		img, p, found := a.fallbackBaseline(ctx, s2, region, in)
		if !found {
			return out, job.DataUnavailableError("No cloud-free data available for any baseline period. Cannot perform analysis.")
		}
		baseline, out.Periods.Baseline = img, p
	}

	area := areaKm2("area_km2")
	stats, err := a.compute(ctx, "glacier_area", earthengine.Dictionary(map[string]earthengine.Value{
		"baseline": glacierMask(baseline).Multiply(area).ReduceRegion(earthengine.SumReducer(), region, glacierScale),
		"recent":   glacierMask(recent).Multiply(area).ReduceRegion(earthengine.SumReducer(), region, glacierScale),
	}))
	if err != nil {
		return out, err
	}
	d, err := asDict(stats)
	if err != nil {
		return out, err
	}
	baselineArea, err := dictFloat(d["baseline"], "glacier")
	if err != nil {
		return out, err
	}
	recentArea, err := dictFloat(d["recent"], "glacier")
	if err != nil {
		return out, err
	}

	b, r := orZero(baselineArea), orZero(recentArea)
	loss := 0.0
	if b > 0 {
		loss = (b - r) / b * 100
	}

	m := &out.Measurements
	m.BaselineAreaSqKm = &b
	m.RecentAreaSqKm = &r
	m.LossPercent = &loss
	out.Metric = &loss

	a.logger.Info().
		Float64("baseline_area_sqkm", b).
		Float64("recent_area_sqkm", r).
		Float64("loss_percent", loss).
		Msg("glacier analysis complete")

	params := earthengine.ThumbnailParams{Region: region, MaxDimension: previewDimension, Visualization: &glacierPreview}
	m.StartImageURL = a.thumbnail(ctx, "baseline_preview", baseline, params)
	m.EndImageURL = a.thumbnail(ctx, "recent_preview", recent, params)

	return out, nil
}

// composite builds the NDSI composite for p and reports whether it is usable:
// the window has images and the median kept the NDSI band.
func (a *Glacier) composite(ctx context.Context, label string, s2 earthengine.ImageCollection, p *job.Period, region earthengine.Geometry) (earthengine.Image, bool, error) {
	img := indexComposite(s2, p, region, bandGreen, bandSWIR, bandNDSI)

	result, err := a.compute(ctx, label+"_composite", earthengine.Dictionary(map[string]earthengine.Value{
		"count": s2.FilterDate(p.Start, p.End).Size(),
		"bands": img.BandNames(),
	}))
	if err != nil {
		return img, false, err
	}
	d, err := asDict(result)
	if err != nil {
		return img, false, err
	}
	count, err := asCount(d["count"])
	if err != nil {
		return img, false, err
	}

	usable := count > 0 && slices.Contains(asStrings(d["bands"]), bandNDSI)
	a.logger.Debug().
		Str("window", label).
		Str("start", p.StartDate()).
		Str("end", p.EndDate()).
		Int("images", count).
		Bool("usable", usable).
		Msg("ndsi composite")
	return img, usable, nil
}

func (a *Glacier) fallbackBaseline(ctx context.Context, s2 earthengine.ImageCollection, region earthengine.Geometry, in job.Input) (earthengine.Image, *job.Period, bool) {
	for _, years := range a.fallbackYears {
		p := GlacierBaseline(in.Now, years)
		img, ok, err := a.composite(ctx, fmt.Sprintf("baseline_%dy", years), s2, p, region)
		if err != nil {
			a.logger.Warn().Err(err).Int("years_ago", years).Msg("alternative baseline failed")
			continue
		}
		if ok {
			a.logger.Info().Int("years_ago", years).Msg("using alternative baseline")
			return img, p, true
		}
	}
	return earthengine.Image{}, nil, false
}

func glacierMask(ndsi earthengine.Image) earthengine.Image {
	return ndsi.Select(bandNDSI).Gt(SnowIndexThreshold).Rename("glacier")
}
