// Package geometry holds the box, point and flat-array helpers shared by the
// decode and mask stages.
package geometry

import "math"

// Box is an axis-aligned rectangle in corner form.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// FromCenter converts a center/size box to corner form.
func FromCenter(cx, cy, w, h float64) Box {
	return Box{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2}
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area is zero for degenerate or inverted boxes.
func (b Box) Area() float64 {
	return math.Max(0, b.Width()) * math.Max(0, b.Height())
}

// Scale multiplies both axes independently.
func (b Box) Scale(sx, sy float64) Box {
	return Box{X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy}
}

// Intersection returns the overlapping area of a and b.
func Intersection(a, b Box) float64 {
	w := math.Min(a.X2, b.X2) - math.Max(a.X1, b.X1)
	h := math.Min(a.Y2, b.Y2) - math.Max(a.Y1, b.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU is intersection over union. Disjoint boxes and empty unions give 0.
func IoU(a, b Box) float64 {
	inter := Intersection(a, b)
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
