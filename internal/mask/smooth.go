package mask

import (
	"math"

	"github.com/kiranshivaraju/holdseg/internal/geometry"
)

// Smooth applies a wrap-around Gaussian moving average to a closed ring.
func Smooth(ring []geometry.Point, radius int, sigma float64) []geometry.Point {
	n := len(ring)
	if n == 0 || radius <= 0 || sigma <= 0 {
		return append([]geometry.Point(nil), ring...)
	}

	weights := make([]float64, 2*radius+1)
	var sum float64
	for j := -radius; j <= radius; j++ {
		w := math.Exp(-0.5 * (float64(j) / sigma) * (float64(j) / sigma))
		weights[j+radius] = w
		sum += w
	}

	out := make([]geometry.Point, n)
	for i := range ring {
		var x, y float64
		for j := -radius; j <= radius; j++ {
			idx := ((i+j)%n + n) % n
			w := weights[j+radius]
			x += ring[idx].X * w
			y += ring[idx].Y * w
		}
		out[i] = geometry.Point{X: x / sum, Y: y / sum}
	}
	return out
}

// Expand pushes each point away from centre by dist. Points on the centre
// stay put.
func Expand(ring []geometry.Point, centre geometry.Point, dist float64) []geometry.Point {
	out := make([]geometry.Point, len(ring))
	for i, p := range ring {
		v := p.Sub(centre)
		l := v.Len()
		if l == 0 {
			out[i] = p
			continue
		}
		out[i] = p.Add(v.Mul(dist / l))
	}
	return out
}
