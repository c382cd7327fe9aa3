package geometry

import "math"

// Point is a 2D coordinate.
type Point struct {
	X, Y float64
}

func (p Point) Sub(q Point) Point   { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) Add(q Point) Point   { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Mul(s float64) Point { return Point{p.X * s, p.Y * s} }
func (p Point) Len() float64        { return math.Hypot(p.X, p.Y) }

// PolygonArea is the absolute shoelace area of a closed ring.
func PolygonArea(ring []Point) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	var s float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		s += ring[i].X*ring[j].Y - ring[j].X*ring[i].Y
	}
	return math.Abs(s) / 2
}

// Centroid is the arithmetic mean of the vertices.
func Centroid(ring []Point) Point {
	if len(ring) == 0 {
		return Point{}
	}
	var c Point
	for _, p := range ring {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(ring))
	return Point{c.X / n, c.Y / n}
}
