// Package job runs one environmental analysis end to end: it reads the job
// request, normalizes the region, invokes the analyzer for the job kind and
// reports a single response envelope with an exit code.
package job

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/geowatch/geowatch/internal/geometry"
)

// Kind identifies an analysis. Its value is echoed as analysis_type.
type Kind string

// Supported analyses.
const (
	KindCoastalErosion Kind = "coastal_erosion"
	KindDeforestation  Kind = "deforestation"
	KindFire           Kind = "fire"
	KindFlooding       Kind = "flooding"
	KindGlacier        Kind = "glacier"
)

var kindAliases = map[string]Kind{
	"coastal-erosion": KindCoastalErosion,
	"coastal_erosion": KindCoastalErosion,
	"deforestation":   KindDeforestation,
	"fire":            KindFire,
	"fire_protection": KindFire,
	"fire-protection": KindFire,
	"flooding":        KindFlooding,
	"glacier":         KindGlacier,
	"glacier_melting": KindGlacier,
	"glacier-melting": KindGlacier,
}

// ParseKind resolves a command-line job name, including legacy aliases.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// CommandName is the canonical command-line name of k.
func (k Kind) CommandName() string {
	return strings.ReplaceAll(string(k), "_", "-")
}

// Aliases lists the other names ParseKind accepts for k, sorted.
func Aliases(k Kind) []string {
	var out []string
	for name, kind := range kindAliases {
		if kind == k && name != k.CommandName() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Kinds lists every analysis in display order.
func Kinds() []Kind {
	return []Kind{KindCoastalErosion, KindDeforestation, KindFire, KindFlooding, KindGlacier}
}

// Threshold field names accepted on input and echoed on output.
const (
	FieldThreshold        = "threshold"
	FieldThresholdPercent = "threshold_percent"
	FieldDaysBack         = "days_back"
)

// Descriptor is the per-kind configuration of the shared runner.
type Descriptor struct {
	Kind Kind

	// ThresholdField is the request and envelope key of the threshold.
	ThresholdField string

	// DefaultThreshold applies when the request omits ThresholdField.
	DefaultThreshold float64

	// FixedPointBuffer, when positive, replaces buffer_meters for points.
	FixedPointBuffer int

	// Fields are the kind-specific envelope keys, in output order.
	Fields []string

	// Alert decides alert_triggered from a successful metric.
	Alert func(metric, threshold float64) bool

	// Connect authenticates and returns the analyzer for one run.
	Connect func(ctx context.Context, credentialsPath string) (Analyzer, error)
}

// IntegerThreshold reports whether the threshold must be a whole number.
func (d Descriptor) IntegerThreshold() bool {
	return d.ThresholdField == FieldDaysBack
}

// Analyzer evaluates one analysis for a region.
type Analyzer interface {
	Analyze(ctx context.Context, in Input) (*Outcome, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, in Input) (*Outcome, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, in Input) (*Outcome, error) {
	return f(ctx, in)
}

// Input is what an analyzer needs for one run.
type Input struct {
	Region    geometry.Region
	Threshold float64
	Now       time.Time
}

// DateLayout renders period bounds.
const DateLayout = "2006-01-02"

// Period is a half-open acquisition window.
type Period struct {
	Start time.Time
	End   time.Time
}

// StartDate is the window start as YYYY-MM-DD in UTC.
func (p Period) StartDate() string { return p.Start.UTC().Format(DateLayout) }

// EndDate is the window end as YYYY-MM-DD in UTC.
func (p Period) EndDate() string { return p.End.UTC().Format(DateLayout) }

// Periods are the windows an analysis compared.
type Periods struct {
	Recent   *Period
	Baseline *Period
	Previous *Period
}

// WindowPolicy derives analysis windows from the invocation time.
type WindowPolicy func(now time.Time) Periods

// Fire is one sampled hotspot.
type Fire struct {
	AcqDate    any     `json:"acq_date"`
	AcqTime    any     `json:"acq_time"`
	Brightness any     `json:"brightness"`
	Confidence any     `json:"confidence"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

// Measurements are the kind-specific outputs. Unset values render as null.
type Measurements struct {
	ShorelineRetreatMeters *float64
	MeanNDVIChange         *float64

	ActiveFireCount *int
	Fires           []Fire

	FloodedAreaSqKm           *float64
	TotalAreaSqKm             *float64
	FloodedPercentage         *float64
	WaterDetectionThresholdDB *float64

	BaselineAreaSqKm *float64
	RecentAreaSqKm   *float64
	LossPercent      *float64

	StartImageURL *string
	EndImageURL   *string
}

// Outcome is an analyzer's result. An analyzer may return a partial outcome
// together with an error; its periods and measurements are still reported.
type Outcome struct {
	// Metric is compared against the threshold by Descriptor.Alert.
	Metric       *float64
	Periods      Periods
	Measurements Measurements
}
