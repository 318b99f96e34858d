package analysis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/geowatch/geowatch/internal/earthengine"
	"github.com/geowatch/geowatch/internal/job"
)

// Fire defaults.
const (
	DefaultDaysBack = 5

	// FireTable is the MODIS thermal anomalies table.
	FireTable = "MODIS/006/MCD14DL"

	fireSampleSize = 20
)

var _ job.Analyzer = (*Fire)(nil)

// Fire counts active fire detections in the region over the last days_back
// days and samples a few of them.
type Fire struct {
	backend
}

// NewFire creates the active fire analysis.
func NewFire(eval Evaluator, logger zerolog.Logger) *Fire {
	return &Fire{backend: backend{eval: eval, logger: logger}}
}

// Analyze implements job.Analyzer. in.Threshold is days_back.
func (a *Fire) Analyze(ctx context.Context, in job.Input) (*job.Outcome, error) {
	daysBack := int(in.Threshold)
	if daysBack <= 0 {
		return nil, fmt.Errorf("days_back must be positive, got %d", daysBack)
	}
	periods := FireWindows(daysBack)(in.Now)
	out := &job.Outcome{Periods: periods}

	region, err := earthengine.GeometryFromRegion(in.Region)
	if err != nil {
		return out, err
	}

	fires := earthengine.LoadTable(FireTable).
		FilterDate(periods.Recent.Start, periods.Recent.End).
		FilterBounds(region)

	result, err := a.compute(ctx, "active_fires", earthengine.Dictionary(map[string]earthengine.Value{
		"count":  fires.Size(),
		"sample": fires.Limit(fireSampleSize),
	}))
	if err != nil {
		return out, err
	}
	d, err := asDict(result)
	if err != nil {
		return out, err
	}
	count, err := asCount(d["count"])
	if err != nil {
		return out, err
	}

	sample := []job.Fire{}
	if count > 0 {
		sample = fireSample(d["sample"])
	}

	metric := float64(count)
	out.Metric = &metric
	out.Measurements.ActiveFireCount = &count
	out.Measurements.Fires = sample

	a.logger.Info().Int("active_fire_count", count).Int("days_back", daysBack).Msg("fire analysis complete")
	return out, nil
}

// fireSample reads hotspots from a GeoJSON feature collection. Features
// without point coordinates are skipped.
func fireSample(v any) []job.Fire {
	col, _ := v.(map[string]any)
	features, _ := col["features"].([]any)

	fires := make([]job.Fire, 0, len(features))
	for _, f := range features {
		feature, _ := f.(map[string]any)
		geom, _ := feature["geometry"].(map[string]any)
		coords, _ := geom["coordinates"].([]any)
		if len(coords) < 2 {
			continue
		}
		lon, okLon := coords[0].(float64)
		lat, okLat := coords[1].(float64)
		if !okLon || !okLat {
			continue
		}

		props, _ := feature["properties"].(map[string]any)
		fires = append(fires, job.Fire{
			AcqDate:    props["acq_date"],
			AcqTime:    props["acq_time"],
			Brightness: props["brightness"],
			Confidence: props["confidence"],
			Latitude:   lat,
			Longitude:  lon,
		})
	}
	return fires
}
