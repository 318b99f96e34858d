package job_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geowatch/geowatch/internal/geometry"
	"github.com/geowatch/geowatch/internal/job"
)

func ptr[T any](v T) *T { return &v }

func floodingFields() []string {
	return []string{
		job.FieldThresholdPercent,
		job.KeyFloodedAreaSqKm,
		job.KeyTotalAreaSqKm,
		job.KeyFloodedPercentage,
		job.KeyWaterDetectionThresholdDB,
		job.KeyRecentPeriodStart,
		job.KeyRecentPeriodEnd,
		job.KeyBaselinePeriodStart,
		job.KeyBaselinePeriodEnd,
		job.KeyStartImageURL,
		job.KeyEndImageURL,
	}
}

func greaterThan(metric, threshold float64) bool { return metric > threshold }

func decodeKeys(t *testing.T, env job.Envelope) ([]string, map[string]any) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var values map[string]any
	require.NoError(t, json.Unmarshal(data, &values))

	dec := json.NewDecoder(bytes.NewReader(data))
	_, err = dec.Token()
	require.NoError(t, err)
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		require.NoError(t, err)
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		require.NoError(t, dec.Decode(&skip))
	}
	return keys, values
}

func TestBuildEnvelope_Success(t *testing.T) {
	d := floodingDescriptor()
	d.Fields = floodingFields()
	d.Alert = greaterThan

	now := time.Date(2025, 4, 20, 15, 0, 0, 0, time.UTC)
	buffer := 500
	region := &geometry.Region{Kind: geometry.TypePoint, EffectiveBuffer: &buffer}
	outcome := &job.Outcome{
		Metric: ptr(7.2),
		Periods: job.Periods{
			Recent:   &job.Period{Start: now.AddDate(0, 0, -14), End: now},
			Baseline: &job.Period{Start: now.AddDate(-1, 0, -14), End: now.AddDate(-1, 0, 0)},
		},
		Measurements: job.Measurements{
			FloodedPercentage:         ptr(7.2),
			FloodedAreaSqKm:           ptr(0.057),
			TotalAreaSqKm:             ptr(0.785),
			WaterDetectionThresholdDB: ptr(-16.0),
		},
	}

	env := job.BuildEnvelope(d, job.Request{RegionID: "r1", Threshold: 5}, region, outcome, nil)
	assert.True(t, env.Succeeded())
	assert.True(t, env.AlertTriggered)
	assert.Equal(t, 0, job.ExitCode(env))
	assert.NoError(t, env.Err())

	keys, values := decodeKeys(t, env)
	assert.Equal(t, []string{
		"status", "message", "alert_triggered", "region_id", "analysis_type", "buffer_radius_meters",
		"threshold_percent", "flooded_area_sqkm", "total_area_sqkm", "flooded_percentage",
		"water_detection_threshold_db", "recent_period_start", "recent_period_end",
		"baseline_period_start", "baseline_period_end", "start_image_url", "end_image_url",
	}, keys)

	assert.Equal(t, "success", values["status"])
	assert.Nil(t, values["message"])
	assert.Equal(t, "r1", values["region_id"])
	assert.Equal(t, "flooding", values["analysis_type"])
	assert.Equal(t, float64(500), values["buffer_radius_meters"])
	assert.Equal(t, float64(5), values["threshold_percent"])
	assert.Equal(t, 7.2, values["flooded_percentage"])
	assert.Equal(t, "2025-04-06", values["recent_period_start"])
	assert.Equal(t, "2025-04-20", values["recent_period_end"])
	assert.Equal(t, "2024-04-06", values["baseline_period_start"])
	assert.Equal(t, "2024-04-20", values["baseline_period_end"])
	assert.Nil(t, values["start_image_url"])
}

func TestBuildEnvelope_PolygonHasNullBuffer(t *testing.T) {
	d := floodingDescriptor()
	d.Fields = floodingFields()
	d.Alert = greaterThan

	region := &geometry.Region{Kind: geometry.TypePolygon}
	env := job.BuildEnvelope(d, job.Request{RegionID: "r1", Threshold: 5}, region, &job.Outcome{Metric: ptr(1.0)}, nil)

	_, values := decodeKeys(t, env)
	assert.Contains(t, values, "buffer_radius_meters")
	assert.Nil(t, values["buffer_radius_meters"])
	assert.Equal(t, false, values["alert_triggered"])
}

func TestBuildEnvelope_AlertFalseOnErrorOrNullMetric(t *testing.T) {
	d := floodingDescriptor()
	d.Fields = floodingFields()
	d.Alert = func(float64, float64) bool { return true }

	tests := []struct {
		name    string
		outcome *job.Outcome
		err     error
		status  string
	}{
		{name: "null metric", outcome: &job.Outcome{}, status: job.StatusSuccess},
		{name: "error with metric", outcome: &job.Outcome{Metric: ptr(50.0)}, err: job.AnalysisError(errors.New("boom")), status: job.StatusError},
		{name: "error without outcome", err: job.DataUnavailableError("nothing"), status: job.StatusError},
		{name: "no outcome and no error", status: job.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := job.BuildEnvelope(d, job.Request{Threshold: 1}, nil, tt.outcome, tt.err)
			assert.False(t, env.AlertTriggered)
			assert.Equal(t, tt.status, env.Status)
			assert.Equal(t, job.DefaultRegionID, env.RegionID)
		})
	}
}

func TestBuildEnvelope_ErrorKeepsKeySet(t *testing.T) {
	d := floodingDescriptor()
	d.Fields = floodingFields()
	d.Alert = greaterThan

	okEnv := job.BuildEnvelope(d, job.Request{Threshold: 5}, nil, &job.Outcome{Metric: ptr(1.0)}, nil)
	errEnv := job.BuildEnvelope(d, job.Request{Threshold: 5}, nil, nil, job.DataUnavailableError("No Sentinel-1 images available."))

	okKeys, _ := decodeKeys(t, okEnv)
	errKeys, values := decodeKeys(t, errEnv)
	assert.Equal(t, okKeys, errKeys)
	assert.Equal(t, "No Sentinel-1 images available.", values["message"])
	assert.Equal(t, 1, job.ExitCode(errEnv))
}

func TestBuildEnvelope_PartialOutcomeOnError(t *testing.T) {
	d := floodingDescriptor()
	d.Fields = floodingFields()
	d.Alert = greaterThan

	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	outcome := &job.Outcome{Periods: job.Periods{Recent: &job.Period{Start: now.AddDate(0, 0, -14), End: now}}}
	env := job.BuildEnvelope(d, job.Request{Threshold: 5}, nil, outcome, job.DataUnavailableError("none"))

	_, values := decodeKeys(t, env)
	assert.Equal(t, "2025-01-01", values["recent_period_start"])
	assert.Equal(t, "error", values["status"])
}

func TestBuildEnvelope_UnexpectedError(t *testing.T) {
	env := job.BuildEnvelope(floodingDescriptor(), job.Request{}, nil, nil, errors.New("nil map"))
	assert.Equal(t, "Unexpected error: nil map", env.Message)
}

func TestBuildEnvelope_DaysBackIsInteger(t *testing.T) {
	d := fireDescriptor()
	d.Fields = []string{job.FieldDaysBack, job.KeyActiveFireCount, job.KeyFires}
	d.Alert = func(m, _ float64) bool { return m > 0 }

	outcome := &job.Outcome{
		Metric:       ptr(0.0),
		Measurements: job.Measurements{ActiveFireCount: ptr(0), Fires: []job.Fire{}},
	}
	env := job.BuildEnvelope(d, job.Request{Threshold: 3}, nil, outcome, nil)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"days_back":3,`)
	assert.Contains(t, string(data), `"fires":[]`)
	assert.Contains(t, string(data), `"active_fire_count":0`)
	assert.False(t, env.AlertTriggered)
}

func TestArgumentEnvelope(t *testing.T) {
	env := job.ArgumentEnvelope(job.ArgumentError())

	keys, values := decodeKeys(t, env)
	assert.Equal(t, []string{"status", "message", "alert_triggered", "region_id", "analysis_type", "buffer_radius_meters"}, keys)
	assert.Equal(t, job.MsgMissingCredentials, values["message"])
	assert.Nil(t, values["analysis_type"])
	assert.Equal(t, 1, job.ExitCode(env))
	assert.ErrorIs(t, env.Err(), job.ErrArgument)
}

func TestWrite_OneDocumentPerLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, job.Write(&buf, job.ArgumentEnvelope(job.ArgumentError())))

	out := buf.String()
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
	assert.True(t, json.Valid([]byte(out)))
}

func TestError_Classification(t *testing.T) {
	cause := errors.New("Image.select: band not found")
	err := job.AnalysisError(cause)

	assert.ErrorIs(t, err, job.ErrAnalysis)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, job.ErrInput)
	assert.Equal(t, "GEE Computation Error: Image.select: band not found", err.Error())

	auth := job.AuthenticationError(errors.New("invalid_grant"))
	assert.Equal(t, job.MsgAuthenticationFailed, auth.Error())

	geom := job.GeometryError(geometry.ErrInvalidPoint)
	assert.Equal(t, "Invalid GeoJSON Geometry: Invalid Point coordinates.", geom.Error())
	assert.ErrorIs(t, geom, geometry.ErrInvalidPoint)
}

func TestArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *job.Error
		want string
	}{
		{"missing kind", job.UnknownKindError(""), job.MsgMissingKind},
		{"unknown kind", job.UnknownKindError("earthquake"), "Unknown analysis type: earthquake."},
		{"bad config", job.ConfigurationError(errors.New("GEOWATCH_LOG_LEVEL: invalid")), "Invalid configuration: GEOWATCH_LOG_LEVEL: invalid"},
		{"bad flag", job.UsageError(errors.New("unknown flag: --bogus")), "Invalid arguments: unknown flag: --bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := job.ArgumentEnvelope(tt.err)
			assert.Equal(t, tt.want, env.Message)
			assert.ErrorIs(t, env.Err(), job.ErrArgument)
			assert.Equal(t, 1, job.ExitCode(env))
		})
	}
}
