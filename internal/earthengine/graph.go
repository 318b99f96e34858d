package earthengine

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/geowatch/geowatch/internal/geometry"
)

// Reduction defaults applied to every ReduceRegion call.
const (
	DefaultMaxPixels  = 1e9
	DefaultBestEffort = true
)

// TimeStartProperty is the acquisition timestamp property of collection items.
const TimeStartProperty = "system:time_start"

// Geometry is a backend geometry value.
type Geometry struct{ n *Node }

// Node implements Value.
func (g Geometry) Node() *Node { return g.n }

// GeometryFromRegion converts a normalized region into a backend geometry.
// Points become a geodesic buffer of EffectiveBuffer meters.
func GeometryFromRegion(r geometry.Region) (Geometry, error) {
	switch g := r.Geometry.(type) {
	case orb.Polygon:
		return Geometry{Invoke("GeometryConstructors.Polygon", Args{
			"coordinates": Constant(polygonCoordinates(g)),
			"evenOdd":     Constant(true),
		})}, nil

	case orb.MultiPolygon:
		coords := make([][][][2]float64, 0, len(g))
		for _, p := range g {
			coords = append(coords, polygonCoordinates(p))
		}
		return Geometry{Invoke("GeometryConstructors.MultiPolygon", Args{
			"coordinates": Constant(coords),
			"evenOdd":     Constant(true),
		})}, nil

	case orb.Point:
		if r.EffectiveBuffer == nil {
			return Geometry{}, errors.New("point region without buffer")
		}
		point := Invoke("GeometryConstructors.Point", Args{
			"coordinates": Constant([2]float64{g[0], g[1]}),
		})
		return Geometry{Invoke("Geometry.buffer", Args{
			"geometry": point,
			"distance": Constant(*r.EffectiveBuffer),
		})}, nil
	}
	return Geometry{}, fmt.Errorf("unsupported region geometry %T", r.Geometry)
}

func polygonCoordinates(p orb.Polygon) [][][2]float64 {
	rings := make([][][2]float64, 0, len(p))
	for _, ring := range p {
		pts := make([][2]float64, 0, len(ring))
		for _, pt := range ring {
			pts = append(pts, [2]float64{pt[0], pt[1]})
		}
		rings = append(rings, pts)
	}
	return rings
}

// Filter is a backend collection filter.
type Filter struct{ n *Node }

// Node implements Value.
func (f Filter) Node() *Node { return f.n }

// DateRangeFilter keeps items acquired in [start, end).
func DateRangeFilter(start, end time.Time) Filter {
	return Filter{Invoke("Filter.dateRangeContains", Args{
		"leftValue": Invoke("DateRange", Args{
			"start": date(start),
			"end":   date(end),
		}),
		"rightField": Constant(TimeStartProperty),
	})}
}

// BoundsFilter keeps items intersecting g.
func BoundsFilter(g Geometry) Filter {
	return Filter{Invoke("Filter.intersects", Args{
		"leftField":  Constant(".all"),
		"rightValue": g,
	})}
}

// EqualsFilter keeps items whose property equals value.
func EqualsFilter(property string, value any) Filter {
	return Filter{Invoke("Filter.equals", Args{
		"leftField":  Constant(property),
		"rightValue": Constant(value),
	})}
}

// ListContainsFilter keeps items whose list property contains value.
func ListContainsFilter(property string, value any) Filter {
	return Filter{Invoke("Filter.listContains", Args{
		"leftField":  Constant(property),
		"rightValue": Constant(value),
	})}
}

// InListFilter keeps items whose property is one of values.
func InListFilter(property string, values Value) Filter {
	return Filter{Invoke("Filter.listContains", Args{
		"leftValue":  values,
		"rightField": Constant(property),
	})}
}

func date(t time.Time) *Node {
	return Invoke("Date", Args{"value": Constant(t.UTC().UnixMilli())})
}

// Reducer aggregates pixel values.
type Reducer struct{ n *Node }

// Node implements Value.
func (r Reducer) Node() *Node { return r.n }

// Reducers used by the analyses.
func SumReducer() Reducer    { return Reducer{Invoke("Reducer.sum", nil)} }
func MeanReducer() Reducer   { return Reducer{Invoke("Reducer.mean", nil)} }
func MedianReducer() Reducer { return Reducer{Invoke("Reducer.median", nil)} }

// Image is a backend raster.
type Image struct{ n *Node }

// Node implements Value.
func (i Image) Node() *Node { return i.n }

// ConstantImage is an image with value v in every pixel.
func ConstantImage(v float64) Image {
	return Image{Invoke("Image.constant", Args{"value": Constant(v)})}
}

// PixelArea is an image of each pixel's area in square meters.
func PixelArea() Image {
	return Image{Invoke("Image.pixelArea", nil)}
}

// PixelLonLat is an image with longitude and latitude bands.
func PixelLonLat() Image {
	return Image{Invoke("Image.pixelLonLat", nil)}
}

// CannyEdges runs the Canny edge detector over img.
func CannyEdges(img Image, threshold, sigma float64) Image {
	return Image{Invoke("CannyEdgeDetector", Args{
		"image":     img,
		"threshold": Constant(threshold),
		"sigma":     Constant(sigma),
	})}
}

// Select keeps the named bands.
func (i Image) Select(bands ...string) Image {
	return Image{Invoke("Image.select", Args{
		"input":         i,
		"bandSelectors": Constant(bands),
	})}
}

// Rename sets band names.
func (i Image) Rename(names ...string) Image {
	return Image{Invoke("Image.rename", Args{
		"input": i,
		"names": Constant(names),
	})}
}

// NormalizedDifference computes (a - b) / (a + b) into band "nd".
func (i Image) NormalizedDifference(a, b string) Image {
	return Image{Invoke("Image.normalizedDifference", Args{
		"input":     i,
		"bandNames": Constant([]string{a, b}),
	})}
}

func (i Image) binary(op string, other Image) Image {
	return Image{Invoke(op, Args{"image1": i, "image2": other})}
}

// Lt is 1 where the image is below v.
func (i Image) Lt(v float64) Image { return i.binary("Image.lt", ConstantImage(v)) }

// Gt is 1 where the image is above v.
func (i Image) Gt(v float64) Image { return i.binary("Image.gt", ConstantImage(v)) }

// Neq is 1 where the image differs from v.
func (i Image) Neq(v float64) Image { return i.binary("Image.neq", ConstantImage(v)) }

// And is the pixelwise logical and.
func (i Image) And(other Image) Image { return i.binary("Image.and", other) }

// Subtract is the pixelwise difference.
func (i Image) Subtract(other Image) Image { return i.binary("Image.subtract", other) }

// Multiply is the pixelwise product.
func (i Image) Multiply(other Image) Image { return i.binary("Image.multiply", other) }

// Divide divides every pixel by v.
func (i Image) Divide(v float64) Image { return i.binary("Image.divide", ConstantImage(v)) }

// UpdateMask masks out pixels where mask is zero.
func (i Image) UpdateMask(mask Image) Image {
	return Image{Invoke("Image.updateMask", Args{"image": i, "mask": mask})}
}

// Unmask fills masked pixels with v.
func (i Image) Unmask(v float64) Image {
	return Image{Invoke("Image.unmask", Args{"input": i, "value": Constant(v)})}
}

// Clip restricts the image to g.
func (i Image) Clip(g Geometry) Image {
	return Image{Invoke("Image.clip", Args{"input": i, "geometry": g})}
}

// BandNames lists the image's bands.
func (i Image) BandNames() *Node {
	return Invoke("Image.bandNames", Args{"image": i})
}

// ReduceRegion aggregates the image over g at scale meters per pixel.
func (i Image) ReduceRegion(r Reducer, g Geometry, scale float64) *Node {
	return Invoke("Image.reduceRegion", Args{
		"image":      i,
		"reducer":    r,
		"geometry":   g,
		"scale":      Constant(scale),
		"maxPixels":  Constant(DefaultMaxPixels),
		"bestEffort": Constant(DefaultBestEffort),
	})
}

// Visualization maps band values onto an RGB palette.
type Visualization struct {
	Min     float64
	Max     float64
	Palette []string
}

// Visualize renders the image to RGB.
func (i Image) Visualize(v Visualization) Image {
	return Image{Invoke("Image.visualize", Args{
		"image":   i,
		"min":     Constant(v.Min),
		"max":     Constant(v.Max),
		"palette": Constant(v.Palette),
	})}
}

func (i Image) clipToBoundsAndScale(g Geometry, maxDimension int) Image {
	return Image{Invoke("Image.clipToBoundsAndScale", Args{
		"input":        i,
		"geometry":     g,
		"maxDimension": Constant(maxDimension),
	})}
}

// ImageCollection is a backend stack of images.
type ImageCollection struct{ n *Node }

// Node implements Value.
func (c ImageCollection) Node() *Node { return c.n }

// LoadImageCollection references a catalog collection by id.
func LoadImageCollection(id string) ImageCollection {
	return ImageCollection{Invoke("ImageCollection.load", Args{"id": Constant(id)})}
}

// Filter applies f.
func (c ImageCollection) Filter(f Filter) ImageCollection {
	return ImageCollection{filterCollection(c, f)}
}

// FilterDate keeps images acquired in [start, end).
func (c ImageCollection) FilterDate(start, end time.Time) ImageCollection {
	return c.Filter(DateRangeFilter(start, end))
}

// FilterBounds keeps images intersecting g.
func (c ImageCollection) FilterBounds(g Geometry) ImageCollection {
	return c.Filter(BoundsFilter(g))
}

// Map applies fn to every image on the backend.
func (c ImageCollection) Map(fn func(Image) Image) ImageCollection {
	const param = "_MAPPING_VAR_0_0"
	body := fn(Image{argument(param)})
	return ImageCollection{Invoke("Collection.map", Args{
		"collection":    c,
		"baseAlgorithm": function([]string{param}, body.n),
	})}
}

// Select keeps the named bands of every image.
func (c ImageCollection) Select(bands ...string) ImageCollection {
	return c.Map(func(img Image) Image { return img.Select(bands...) })
}

// Median reduces the collection to its per-pixel median, keeping band names.
func (c ImageCollection) Median() Image {
	reduced := Invoke("ImageCollection.reduce", Args{
		"collection": c,
		"reducer":    MedianReducer(),
	})
	return Image{Invoke("Image.regexpRename", Args{
		"input":       reduced,
		"regex":       Constant("_median$"),
		"replacement": Constant(""),
	})}
}

// Size counts the images.
func (c ImageCollection) Size() *Node {
	return Invoke("Collection.size", Args{"collection": c})
}

// AggregateArray collects one property of every image.
func (c ImageCollection) AggregateArray(property string) *Node {
	return Invoke("AggregateFeatureCollection.array", Args{
		"collection": c,
		"property":   Constant(property),
	})
}

// FeatureCollection is a backend vector table.
type FeatureCollection struct{ n *Node }

// Node implements Value.
func (c FeatureCollection) Node() *Node { return c.n }

// LoadTable references a catalog table by id.
func LoadTable(id string) FeatureCollection {
	return FeatureCollection{Invoke("Collection.loadTable", Args{"tableId": Constant(id)})}
}

// Filter applies f.
func (c FeatureCollection) Filter(f Filter) FeatureCollection {
	return FeatureCollection{filterCollection(c, f)}
}

// FilterDate keeps features stamped in [start, end).
func (c FeatureCollection) FilterDate(start, end time.Time) FeatureCollection {
	return c.Filter(DateRangeFilter(start, end))
}

// FilterBounds keeps features intersecting g.
func (c FeatureCollection) FilterBounds(g Geometry) FeatureCollection {
	return c.Filter(BoundsFilter(g))
}

// Limit keeps the first n features.
func (c FeatureCollection) Limit(n int) FeatureCollection {
	return FeatureCollection{Invoke("Collection.limit", Args{
		"collection": c,
		"limit":      Constant(n),
	})}
}

// Size counts the features.
func (c FeatureCollection) Size() *Node {
	return Invoke("Collection.size", Args{"collection": c})
}

func filterCollection(c Value, f Filter) *Node {
	return Invoke("Collection.filter", Args{"collection": c, "filter": f})
}

// Distinct removes duplicates from a list value.
func Distinct(list Value) *Node {
	return Invoke("List.distinct", Args{"list": list})
}
