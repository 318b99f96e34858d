package analysis

import (
	"github.com/geowatch/geowatch/internal/earthengine"
	"github.com/geowatch/geowatch/internal/job"
)

// Sentinel-2 surface reflectance.
const (
	S2Collection = "COPERNICUS/S2_SR_HARMONIZED"

	bandGreen = "B3"
	bandRed   = "B4"
	bandNIR   = "B8"
	bandSWIR  = "B11"
	bandSCL   = "SCL"
)

// Scene classification classes dropped as cloud, cloud shadow or cirrus.
var sclCloudClasses = []float64{3, 8, 9, 10, 11}

// maskClouds drops pixels whose scene classification is a cloud class.
func maskClouds(img earthengine.Image) earthengine.Image {
	scl := img.Select(bandSCL)
	mask := scl.Neq(sclCloudClasses[0])
	for _, class := range sclCloudClasses[1:] {
		mask = mask.And(scl.Neq(class))
	}
	return img.UpdateMask(mask)
}

// indexComposite is the cloud-masked median of the normalized difference of
// bands a and b over p, named band and clipped to region.
func indexComposite(col earthengine.ImageCollection, p *job.Period, region earthengine.Geometry, a, b, band string) earthengine.Image {
	return col.FilterDate(p.Start, p.End).
		Map(func(img earthengine.Image) earthengine.Image {
			return maskClouds(img).NormalizedDifference(a, b).Rename(band)
		}).
		Median().
		Clip(region)
}

// areaKm2 is every pixel's area in square kilometers.
func areaKm2(band string) earthengine.Image {
	return earthengine.PixelArea().Divide(squareMetersPerKm2).Rename(band)
}

const squareMetersPerKm2 = 1e6

// previewDimension bounds the longer side of preview thumbnails in pixels.
const previewDimension = 512
