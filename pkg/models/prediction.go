package models

// Polygon is a closed ring in original-image pixels stored as alternating x,y values.
// Point order is the boundary traversal order.
type Polygon []float64

// Len returns the number of points in the ring.
func (p Polygon) Len() int { return len(p) / 2 }

// Point returns the i-th vertex.
func (p Polygon) Point(i int) (x, y float64) { return p[2*i], p[2*i+1] }

// Bounds returns the axis-aligned extent of the ring.
func (p Polygon) Bounds() (minX, minY, maxX, maxY float64) {
	if len(p) < 2 {
		return 0, 0, 0, 0
	}
	minX, minY = p[0], p[1]
	maxX, maxY = p[0], p[1]
	for i := 2; i+1 < len(p); i += 2 {
		minX = min(minX, p[i])
		maxX = max(maxX, p[i])
		minY = min(minY, p[i+1])
		maxY = max(maxY, p[i+1])
	}
	return minX, minY, maxX, maxY
}

// PredictionSet is the immutable output of one job.
type PredictionSet struct {
	Polygons    []Polygon `json:"polygons"`
	ImageWidth  int       `json:"image_width"`
	ImageHeight int       `json:"image_height"`
}
