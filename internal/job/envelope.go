package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/geowatch/geowatch/internal/geometry"
)

// Envelope statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope keys shared by every kind.
const (
	KeyStatus             = "status"
	KeyMessage            = "message"
	KeyAlertTriggered     = "alert_triggered"
	KeyRegionID           = "region_id"
	KeyAnalysisType       = "analysis_type"
	KeyBufferRadiusMeters = "buffer_radius_meters"
)

// Kind-specific envelope keys.
const (
	KeyRecentPeriodStart   = "recent_period_start"
	KeyRecentPeriodEnd     = "recent_period_end"
	KeyBaselinePeriodStart = "baseline_period_start"
	KeyBaselinePeriodEnd   = "baseline_period_end"
	KeyPreviousPeriodStart = "previous_period_start"
	KeyPreviousPeriodEnd   = "previous_period_end"

	KeyShorelineRetreatMeters    = "shoreline_retreat_meters"
	KeyMeanNDVIChange            = "mean_ndvi_change"
	KeyActiveFireCount           = "active_fire_count"
	KeyFires                     = "fires"
	KeyFloodedAreaSqKm           = "flooded_area_sqkm"
	KeyTotalAreaSqKm             = "total_area_sqkm"
	KeyFloodedPercentage         = "flooded_percentage"
	KeyWaterDetectionThresholdDB = "water_detection_threshold_db"
	KeyBaselineAreaSqKm          = "baseline_area_sqkm"
	KeyRecentAreaSqKm            = "recent_area_sqkm"
	KeyLossPercent               = "loss_percent"
	KeyStartImageURL             = "start_image_url"
	KeyEndImageURL               = "end_image_url"
)

var commonKeys = []string{
	KeyStatus,
	KeyMessage,
	KeyAlertTriggered,
	KeyRegionID,
	KeyAnalysisType,
	KeyBufferRadiusMeters,
}

// Envelope is the single document reported for a run. Its keys are fixed per
// kind and identical on success and error; absent values encode as null.
type Envelope struct {
	Status             string
	Message            string
	AlertTriggered     bool
	RegionID           string
	AnalysisType       Kind
	BufferRadiusMeters *int

	ThresholdField string
	Threshold      float64

	// Metric is the value Alert was evaluated on. It is not serialized.
	Metric       *float64
	Periods      Periods
	Measurements Measurements

	fields []string
	err    error
}

// Err returns the failure behind an error envelope.
func (e Envelope) Err() error {
	return e.err
}

// Succeeded reports whether the analysis completed.
func (e Envelope) Succeeded() bool {
	return e.Status == StatusSuccess
}

// BuildEnvelope assembles the envelope for one run. region is nil when the
// run failed before normalization; outcome may be partial when err is set.
func BuildEnvelope(d Descriptor, req Request, region *geometry.Region, outcome *Outcome, err error) Envelope {
	env := Envelope{
		Status:         StatusSuccess,
		RegionID:       req.RegionID,
		AnalysisType:   d.Kind,
		ThresholdField: d.ThresholdField,
		Threshold:      req.Threshold,
		fields:         d.Fields,
	}
	if env.RegionID == "" {
		env.RegionID = DefaultRegionID
	}
	if region != nil {
		env.BufferRadiusMeters = region.EffectiveBuffer
	}
	if outcome != nil {
		env.Metric = outcome.Metric
		env.Periods = outcome.Periods
		env.Measurements = outcome.Measurements
	}

	switch {
	case err != nil:
		env.Status = StatusError
		env.Message = Message(err)
		env.err = err
	case outcome == nil:
		env.Status = StatusError
		env.err = fmt.Errorf("%s analysis returned no result", d.Kind)
		env.Message = Message(env.err)
	case outcome.Metric != nil && d.Alert != nil:
		env.AlertTriggered = d.Alert(*outcome.Metric, req.Threshold)
	}
	return env
}

// ArgumentEnvelope is reported when the invocation itself is unusable. Only
// the common keys are emitted.
func ArgumentEnvelope(err error) Envelope {
	return Envelope{
		Status:   StatusError,
		Message:  Message(err),
		RegionID: DefaultRegionID,
		err:      err,
	}
}

// ExitCode maps an envelope to the process exit status.
func ExitCode(env Envelope) int {
	if env.Succeeded() {
		return 0
	}
	return 1
}

// Write emits env as one JSON document followed by a newline.
func Write(w io.Writer, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}

// MarshalJSON writes the common keys followed by the kind's keys in order.
func (e Envelope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	keys := commonKeys
	if len(e.fields) > 0 {
		keys = make([]string, 0, len(commonKeys)+len(e.fields))
		keys = append(keys, commonKeys...)
		keys = append(keys, e.fields...)
	}

	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.value(key))
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e Envelope) value(key string) any {
	m := e.Measurements
	switch key {
	case KeyStatus:
		return e.Status
	case KeyMessage:
		if e.Message == "" {
			return nil
		}
		return e.Message
	case KeyAlertTriggered:
		return e.AlertTriggered
	case KeyRegionID:
		return e.RegionID
	case KeyAnalysisType:
		if e.AnalysisType == "" {
			return nil
		}
		return e.AnalysisType
	case KeyBufferRadiusMeters:
		return e.BufferRadiusMeters
	case e.ThresholdField:
		if e.ThresholdField == FieldDaysBack {
			return int(e.Threshold)
		}
		return e.Threshold

	case KeyRecentPeriodStart:
		return startDate(e.Periods.Recent)
	case KeyRecentPeriodEnd:
		return endDate(e.Periods.Recent)
	case KeyBaselinePeriodStart:
		return startDate(e.Periods.Baseline)
	case KeyBaselinePeriodEnd:
		return endDate(e.Periods.Baseline)
	case KeyPreviousPeriodStart:
		return startDate(e.Periods.Previous)
	case KeyPreviousPeriodEnd:
		return endDate(e.Periods.Previous)

	case KeyShorelineRetreatMeters:
		return m.ShorelineRetreatMeters
	case KeyMeanNDVIChange:
		return m.MeanNDVIChange
	case KeyActiveFireCount:
		return m.ActiveFireCount
	case KeyFires:
		return m.Fires
	case KeyFloodedAreaSqKm:
		return m.FloodedAreaSqKm
	case KeyTotalAreaSqKm:
		return m.TotalAreaSqKm
	case KeyFloodedPercentage:
		return m.FloodedPercentage
	case KeyWaterDetectionThresholdDB:
		return m.WaterDetectionThresholdDB
	case KeyBaselineAreaSqKm:
		return m.BaselineAreaSqKm
	case KeyRecentAreaSqKm:
		return m.RecentAreaSqKm
	case KeyLossPercent:
		return m.LossPercent
	case KeyStartImageURL:
		return m.StartImageURL
	case KeyEndImageURL:
		return m.EndImageURL
	}
	return nil
}

func startDate(p *Period) *string {
	if p == nil {
		return nil
	}
	s := p.StartDate()
	return &s
}

func endDate(p *Period) *string {
	if p == nil {
		return nil
	}
	s := p.EndDate()
	return &s
}
