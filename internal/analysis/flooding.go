package analysis

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/geowatch/geowatch/internal/earthengine"
	"github.com/geowatch/geowatch/internal/job"
)

// Flooding defaults.
const (
	DefaultFloodThresholdPercent = 5.0

	S1Collection = "COPERNICUS/S1_GRD"

	// WaterThresholdDB is the VV backscatter below which a pixel is water.
	WaterThresholdDB = -16.0

	floodRecentDays          = 14
	floodBaselineOffsetYears = 1
	floodBaselineDays        = 14
	floodScale               = 30

	s1Polarization   = "VV"
	s1InstrumentMode = "IW"
	orbitProperty    = "relativeOrbitNumber_start"
)

var floodPreview = earthengine.Visualization{Min: 0, Max: 1, Palette: []string{"white", "blue"}}

var _ job.Analyzer = (*Flooding)(nil)

// Flooding measures newly flooded area from Sentinel-1 radar backscatter.
type Flooding struct {
	backend
	windows job.WindowPolicy
}

// NewFlooding creates the flooding analysis.
func NewFlooding(eval Evaluator, logger zerolog.Logger) *Flooding {
	return &Flooding{backend: backend{eval: eval, logger: logger}, windows: FloodingWindows}
}

// Analyze implements job.Analyzer.
func (a *Flooding) Analyze(ctx context.Context, in job.Input) (*job.Outcome, error) {
	periods := a.windows(in.Now)
	out := &job.Outcome{Periods: periods}

	region, err := earthengine.GeometryFromRegion(in.Region)
	if err != nil {
		return out, err
	}

	s1 := earthengine.LoadImageCollection(S1Collection).
		Filter(earthengine.EqualsFilter("instrumentMode", s1InstrumentMode)).
		Filter(earthengine.ListContainsFilter("transmitterReceiverPolarisation", s1Polarization)).
		FilterBounds(region).
		Select(s1Polarization)

	recent := s1.FilterDate(periods.Recent.Start, periods.Recent.End)
	baseline := s1.FilterDate(periods.Baseline.Start, periods.Baseline.End)

	counts, err := a.compute(ctx, "image_counts", earthengine.Dictionary(map[string]earthengine.Value{
		"recent":   recent.Size(),
		"baseline": baseline.Size(),
	}))
	if err != nil {
		return out, err
	}
	recentCount, baselineCount, err := twoCounts(counts)
	if err != nil {
		return out, err
	}
	a.logger.Debug().Int("recent", recentCount).Int("baseline", baselineCount).Msg("sentinel-1 images found")

	if recentCount == 0 {
		return out, job.DataUnavailableError("No Sentinel-1 images available for the recent period %s to %s.",
			periods.Recent.StartDate(), periods.Recent.EndDate())
	}
	if baselineCount == 0 {
		return out, job.DataUnavailableError("No Sentinel-1 images available for the baseline period %s to %s.",
			periods.Baseline.StartDate(), periods.Baseline.EndDate())
	}

	baseline, err = a.matchOrbits(ctx, recent, baseline)
	if err != nil {
		return out, err
	}

	recentWater := waterComposite(recent, region)
	baselineWater := waterComposite(baseline, region)

	flood := recentWater.Subtract(baselineWater).Gt(0).Rename("flood_water")
	area := areaKm2("area")

	stats, err := a.compute(ctx, "area_stats", earthengine.Dictionary(map[string]earthengine.Value{
		"flood": flood.Multiply(area).ReduceRegion(earthengine.SumReducer(), region, floodScale),
		"total": area.ReduceRegion(earthengine.SumReducer(), region, floodScale),
	}))
	if err != nil {
		return out, err
	}
	d, err := asDict(stats)
	if err != nil {
		return out, err
	}
	flooded, err := dictFloat(d["flood"], "flood_water")
	if err != nil {
		return out, err
	}
	total, err := dictFloat(d["total"], "area")
	if err != nil {
		return out, err
	}

	m := &out.Measurements
	m.FloodedAreaSqKm = ptr(orZero(flooded))
	m.TotalAreaSqKm = ptr(orZero(total))
	if orZero(total) <= 0 {
		return out, job.DataUnavailableError("Could not calculate total area of the region.")
	}

	percentage := *m.FloodedAreaSqKm / *m.TotalAreaSqKm * 100
	m.FloodedPercentage = &percentage
	m.WaterDetectionThresholdDB = ptr(WaterThresholdDB)
	out.Metric = &percentage

	a.logger.Info().
		Float64("flooded_area_sqkm", *m.FloodedAreaSqKm).
		Float64("total_area_sqkm", *m.TotalAreaSqKm).
		Float64("flooded_percentage", percentage).
		Msg("flood analysis complete")

	params := earthengine.ThumbnailParams{Region: region, MaxDimension: previewDimension, Visualization: &floodPreview}
	m.StartImageURL = a.thumbnail(ctx, "baseline_preview", baselineWater, params)
	m.EndImageURL = a.thumbnail(ctx, "recent_preview", recentWater, params)

	return out, nil
}

// matchOrbits narrows baseline to the relative orbits seen in recent. When
// the orbits cannot be read the baseline is used unfiltered.
func (a *Flooding) matchOrbits(ctx context.Context, recent, baseline earthengine.ImageCollection) (earthengine.ImageCollection, error) {
	result, err := a.eval.Compute(ctx, "recent_orbits", earthengine.Distinct(recent.AggregateArray(orbitProperty)))
	if err != nil {
		a.logger.Warn().Err(err).Msg("could not read recent orbits, baseline left unfiltered")
		return baseline, nil
	}
	orbits, _ := result.([]any)
	if len(orbits) == 0 {
		a.logger.Warn().Msg("no recent orbit numbers, baseline left unfiltered")
		return baseline, nil
	}

	filtered := baseline.Filter(earthengine.InListFilter(orbitProperty, earthengine.Constant(orbits)))
	count, err := a.compute(ctx, "baseline_count_by_orbit", filtered.Size())
	if err != nil {
		return baseline, err
	}
	n, err := asCount(count)
	if err != nil {
		return baseline, err
	}
	if n == 0 {
		return baseline, job.DataUnavailableError("No Sentinel-1 images available for the baseline period after orbit filtering.")
	}
	a.logger.Debug().Interface("orbits", orbits).Int("baseline", n).Msg("baseline filtered by orbit")
	return filtered, nil
}

// waterComposite is the median water mask of col, zero where unobserved.
func waterComposite(col earthengine.ImageCollection, region earthengine.Geometry) earthengine.Image {
	return col.Map(func(img earthengine.Image) earthengine.Image {
		return img.Select(s1Polarization).Lt(WaterThresholdDB).Rename("water")
	}).
		Median().
		Unmask(0).
		Clip(region)
}

func twoCounts(v any) (recent, baseline int, err error) {
	d, err := asDict(v)
	if err != nil {
		return 0, 0, err
	}
	if recent, err = asCount(d["recent"]); err != nil {
		return 0, 0, err
	}
	if baseline, err = asCount(d["baseline"]); err != nil {
		return 0, 0, err
	}
	return recent, baseline, nil
}
