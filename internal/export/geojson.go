// Package export renders prediction sets for external tools.
package export

import (
	geojson "github.com/paulmach/go.geojson"

	"github.com/kiranshivaraju/holdseg/internal/geometry"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// FeatureCollection converts set into GeoJSON in image pixel coordinates
// (origin top-left, y down). Each polygon becomes one Feature with a closed
// outer ring.
func FeatureCollection(set *models.PredictionSet) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if set == nil {
		return fc
	}

	for i, poly := range set.Polygons {
		n := poly.Len()
		if n < 3 {
			continue
		}
		ring := make([][]float64, 0, n+1)
		pts := make([]geometry.Point, 0, n)
		for j := 0; j < n; j++ {
			x, y := poly.Point(j)
			ring = append(ring, []float64{x, y})
			pts = append(pts, geometry.Point{X: x, Y: y})
		}
		ring = append(ring, ring[0])

		f := geojson.NewPolygonFeature([][][]float64{ring})
		f.SetProperty("index", i)
		f.SetProperty("area_px", geometry.PolygonArea(pts))
		f.SetProperty("image_width", set.ImageWidth)
		f.SetProperty("image_height", set.ImageHeight)
		fc.AddFeature(f)
	}
	return fc
}
