// Package geometry turns caller-supplied GeoJSON into the region an analysis
// runs over.
package geometry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Supported GeoJSON geometry types.
const (
	TypePolygon      = "Polygon"
	TypeMultiPolygon = "MultiPolygon"
	TypePoint        = "Point"
)

// Normalization errors.
var (
	ErrMalformed       = errors.New("geometry must be a GeoJSON object")
	ErrMissingFields   = errors.New("Invalid GeoJSON structure: Missing 'type' or 'coordinates'.") //nolint:stylecheck // surfaced verbatim to callers
	ErrInvalidPoint    = errors.New("Invalid Point coordinates.")                                  //nolint:stylecheck // surfaced verbatim to callers
	ErrUnsupportedType = errors.New("Unsupported geometry type")                                  //nolint:stylecheck // surfaced verbatim to callers
	ErrInvalidBuffer   = errors.New("buffer radius must be positive")
)

// Region is a normalized analysis area.
type Region struct {
	// Kind is the GeoJSON type the region was built from.
	Kind string

	// Geometry is orb.Polygon, orb.MultiPolygon or, for point regions, the
	// orb.Point that is buffered by EffectiveBuffer.
	Geometry orb.Geometry

	// EffectiveBuffer is the buffer radius in meters. Only set for points.
	EffectiveBuffer *int
}

// IsPoint reports whether the region is a buffered point.
func (r Region) IsPoint() bool {
	return r.Kind == TypePoint
}

// Bound returns the bounding box of the underlying geometry. For points the
// buffer is not included.
func (r Region) Bound() orb.Bound {
	if r.Geometry == nil {
		return orb.Bound{}
	}
	return r.Geometry.Bound()
}

type rawGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Normalize validates raw GeoJSON and returns the region to analyze. Points
// are buffered by bufferMeters; polygons are forwarded without topology
// checks.
func Normalize(raw json.RawMessage, bufferMeters int) (Region, error) {
	var g rawGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return Region{}, ErrMalformed
	}

	if g.Type == "" || isEmptyCoordinates(g.Coordinates) {
		return Region{}, ErrMissingFields
	}

	switch g.Type {
	case TypePolygon, TypeMultiPolygon:
		decoded, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return Region{}, fmt.Errorf("decoding %s: %w", g.Type, err)
		}
		return Region{Kind: g.Type, Geometry: decoded.Coordinates}, nil

	case TypePoint:
		point, err := decodePoint(g.Coordinates)
		if err != nil {
			return Region{}, err
		}
		if bufferMeters <= 0 {
			return Region{}, fmt.Errorf("%w: %d", ErrInvalidBuffer, bufferMeters)
		}
		buffer := bufferMeters
		return Region{Kind: TypePoint, Geometry: point, EffectiveBuffer: &buffer}, nil

	default:
		return Region{}, fmt.Errorf("%w: %s", ErrUnsupportedType, g.Type)
	}
}

func isEmptyCoordinates(c json.RawMessage) bool {
	trimmed := bytes.TrimSpace(c)
	switch string(trimmed) {
	case "", "null", "[]", "{}", `""`, "0", "false":
		return true
	}
	return false
}

// decodePoint accepts exactly [lon, lat] as JSON numbers.
func decodePoint(c json.RawMessage) (orb.Point, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(c, &parts); err != nil || len(parts) != 2 {
		return orb.Point{}, ErrInvalidPoint
	}

	var p orb.Point
	for i, part := range parts {
		if string(bytes.TrimSpace(part)) == "null" {
			return orb.Point{}, ErrInvalidPoint
		}
		var v float64
		if err := json.Unmarshal(part, &v); err != nil {
			return orb.Point{}, ErrInvalidPoint
		}
		p[i] = v
	}
	return p, nil
}
