// Package results persists and forwards analysis envelopes once they have
// been reported. Every sink implements job.Recorder.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/geowatch/geowatch/internal/job"
)

// Record is the stored form of one analysis run.
type Record struct {
	ID                  uuid.UUID
	AnalysisType        job.Kind
	RegionID            string
	Status              string
	Message             string
	AlertTriggered      bool
	Metric              *float64
	Threshold           *float64
	BufferRadiusMeters  *int
	RecentPeriodStart   *time.Time
	RecentPeriodEnd     *time.Time
	BaselinePeriodStart *time.Time
	BaselinePeriodEnd   *time.Time
	PreviousPeriodStart *time.Time
	PreviousPeriodEnd   *time.Time
	// Envelope is the document exactly as it was reported.
	Envelope  json.RawMessage
	CreatedAt time.Time
}

// NewRecord captures env at time now.
func NewRecord(env job.Envelope, now time.Time) (Record, error) {
	doc, err := json.Marshal(env)
	if err != nil {
		return Record{}, fmt.Errorf("encode envelope: %w", err)
	}

	rec := Record{
		ID:                 uuid.New(),
		AnalysisType:       env.AnalysisType,
		RegionID:           env.RegionID,
		Status:             env.Status,
		Message:            env.Message,
		AlertTriggered:     env.AlertTriggered,
		Metric:             env.Metric,
		BufferRadiusMeters: env.BufferRadiusMeters,
		Envelope:           doc,
		CreatedAt:          now.UTC(),
	}
	// Argument envelopes never read a threshold.
	if env.ThresholdField != "" {
		threshold := env.Threshold
		rec.Threshold = &threshold
	}
	rec.RecentPeriodStart, rec.RecentPeriodEnd = bounds(env.Periods.Recent)
	rec.BaselinePeriodStart, rec.BaselinePeriodEnd = bounds(env.Periods.Baseline)
	rec.PreviousPeriodStart, rec.PreviousPeriodEnd = bounds(env.Periods.Previous)
	return rec, nil
}

func bounds(p *job.Period) (start, end *time.Time) {
	if p == nil {
		return nil, nil
	}
	s, e := p.Start.UTC(), p.End.UTC()
	return &s, &e
}

// Multi fans an envelope out to every recorder. All recorders run; their
// errors are joined.
type Multi []job.Recorder

var _ job.Recorder = Multi(nil)

// Record implements job.Recorder.
func (m Multi) Record(ctx context.Context, env job.Envelope) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopRecorder discards envelopes.
type NopRecorder struct{}

// Record implements job.Recorder.
func (NopRecorder) Record(context.Context, job.Envelope) error { return nil }
