package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Request defaults.
const (
	DefaultRegionID     = "unknown_region"
	DefaultBufferMeters = 1000
	// MaxBufferMeters is half the Earth's circumference.
	MaxBufferMeters     = 20_037_508
)

// Request is one decoded job.
type Request struct {
	Geometry     json.RawMessage
	RegionID     string
	Threshold    float64
	BufferMeters int
}

// Input decoding errors.
var (
	errNotObject       = errors.New("request must be a JSON object")
	errMissingGeometry = errors.New("'geometry' is required")
	errNotPositive     = errors.New("must be a positive integer")
	errBufferRange     = fmt.Errorf("must not exceed %d meters", MaxBufferMeters)
)

// ReadRequest decodes one job from r, applying the defaults of d. On error
// the returned request still carries whatever region id could be read, so
// the error envelope can echo it.
func ReadRequest(r io.Reader, d Descriptor) (Request, error) {
	req := defaultRequest(d)

	data, err := io.ReadAll(r)
	if err != nil {
		return req, InputError(fmt.Errorf("reading input: %w", err))
	}
	return DecodeRequest(data, d)
}

// DecodeRequest is ReadRequest over an in-memory body.
func DecodeRequest(data []byte, d Descriptor) (Request, error) {
	req := defaultRequest(d)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		if len(bytes.TrimSpace(data)) == 0 {
			return req, InputError(errors.New("empty input"))
		}
		return req, InputError(err)
	}
	if fields == nil {
		return req, InputError(errNotObject)
	}

	if raw, ok := fields["region_id"]; ok && !isNull(raw) {
		req.RegionID = regionID(raw)
	}

	geom, ok := fields["geometry"]
	if !ok || isNull(geom) {
		return req, InputError(errMissingGeometry)
	}
	req.Geometry = geom

	if raw, ok := fields[d.ThresholdField]; ok && !isNull(raw) {
		v, err := number(raw)
		if err != nil {
			return req, InputError(fmt.Errorf("%s: %w", d.ThresholdField, err))
		}
		if d.IntegerThreshold() {
			v = math.Trunc(v)
			if v <= 0 {
				return req, InputError(fmt.Errorf("%s: %w", d.ThresholdField, errNotPositive))
			}
		}
		req.Threshold = v
	}

	if raw, ok := fields["buffer_meters"]; ok && !isNull(raw) {
		v, err := number(raw)
		if err != nil {
			return req, InputError(fmt.Errorf("buffer_meters: %w", err))
		}
		if math.Abs(v) > MaxBufferMeters {
			return req, InputError(fmt.Errorf("buffer_meters: %w", errBufferRange))
		}
		req.BufferMeters = int(v)
	}

	return req, nil
}

func defaultRequest(d Descriptor) Request {
	return Request{
		RegionID:     DefaultRegionID,
		Threshold:    d.DefaultThreshold,
		BufferMeters: DefaultBufferMeters,
	}
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// regionID echoes strings verbatim and renders anything else as its JSON text.
func regionID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// number accepts a JSON number or a string holding one.
func number(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return f, nil
}
