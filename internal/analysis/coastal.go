package analysis

import (
	"context"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rs/zerolog"

	"github.com/geowatch/geowatch/internal/earthengine"
	"github.com/geowatch/geowatch/internal/job"
)

// Coastal erosion defaults.
const (
	DefaultShorelineRetreatThreshold = 5.0

	// EarthRadiusMeters is the mean radius used for shoreline distances.
	EarthRadiusMeters = 6371000.0

	coastalRecentDays   = 365
	coastalBaselineDays = 365
	coastalScale        = 10

	bandNDWI = "NDWI"

	cannyThreshold = 0.1
	cannySigma     = 1.0
)

var _ job.Analyzer = (*CoastalErosion)(nil)

// CoastalErosion estimates shoreline movement between two yearly composites
// as the distance between the centroids of their water edges.
type CoastalErosion struct {
	backend
	windows job.WindowPolicy
}

// NewCoastalErosion creates the coastal erosion analysis.
func NewCoastalErosion(eval Evaluator, logger zerolog.Logger) *CoastalErosion {
	return &CoastalErosion{backend: backend{eval: eval, logger: logger}, windows: CoastalWindows}
}

// Analyze implements job.Analyzer.
func (a *CoastalErosion) Analyze(ctx context.Context, in job.Input) (*job.Outcome, error) {
	periods := a.windows(in.Now)
	out := &job.Outcome{Periods: periods}

	region, err := earthengine.GeometryFromRegion(in.Region)
	if err != nil {
		return out, err
	}

	s2 := earthengine.LoadImageCollection(S2Collection).FilterBounds(region)
	baseline := indexComposite(s2, periods.Baseline, region, bandGreen, bandNIR, bandNDWI)
	recent := indexComposite(s2, periods.Recent, region, bandGreen, bandNIR, bandNDWI)

	bands, err := a.compute(ctx, "composite_bands", earthengine.Dictionary(map[string]earthengine.Value{
		"baseline": baseline.BandNames(),
		"recent":   recent.BandNames(),
	}))
	if err != nil {
		return out, err
	}
	d, err := asDict(bands)
	if err != nil {
		return out, err
	}
	if !slices.Contains(asStrings(d["baseline"]), bandNDWI) {
		return out, job.DataUnavailableError("No NDWI band found in baseline composite. No cloud-free data available in this period/region.")
	}
	if !slices.Contains(asStrings(d["recent"]), bandNDWI) {
		return out, job.DataUnavailableError("No NDWI band found in recent composite. No cloud-free data available in this period/region.")
	}

	centroids, err := a.compute(ctx, "shoreline_centroids", earthengine.Dictionary(map[string]earthengine.Value{
		"baseline": shorelineCentroid(baseline, region),
		"recent":   shorelineCentroid(recent, region),
	}))
	if err != nil {
		return out, err
	}
	c, err := asDict(centroids)
	if err != nil {
		return out, err
	}
	from, okFrom := lonLat(c["baseline"])
	to, okTo := lonLat(c["recent"])
	if !okFrom || !okTo {
		return out, job.DataUnavailableError("Could not calculate shoreline shift: no shoreline detected in one or both periods.")
	}

	retreat := ShorelineDistance(from, to)
	out.Metric = &retreat
	out.Measurements.ShorelineRetreatMeters = &retreat

	a.logger.Info().
		Floats64("baseline_centroid", []float64{from.Lon(), from.Lat()}).
		Floats64("recent_centroid", []float64{to.Lon(), to.Lat()}).
		Float64("shoreline_retreat_meters", retreat).
		Msg("coastal analysis complete")

	return out, nil
}

// shorelineCentroid is the mean position of the water edge pixels.
func shorelineCentroid(ndwi earthengine.Image, region earthengine.Geometry) *earthengine.Node {
	water := ndwi.Select(bandNDWI).Gt(0).Rename("water")
	edges := earthengine.CannyEdges(water, cannyThreshold, cannySigma)
	shoreline := edges.UpdateMask(edges).Clip(region)
	return earthengine.PixelLonLat().
		UpdateMask(shoreline).
		ReduceRegion(earthengine.MeanReducer(), region, coastalScale)
}

func lonLat(v any) (orb.Point, bool) {
	d, ok := v.(map[string]any)
	if !ok {
		return orb.Point{}, false
	}
	lon, okLon := d["longitude"].(float64)
	lat, okLat := d["latitude"].(float64)
	if !okLon || !okLat {
		return orb.Point{}, false
	}
	return orb.Point{lon, lat}, true
}

// ShorelineDistance is the haversine distance in meters on a sphere of
// EarthRadiusMeters.
func ShorelineDistance(from, to orb.Point) float64 {
	return geo.DistanceHaversine(from, to) * EarthRadiusMeters / orb.EarthRadius
}
