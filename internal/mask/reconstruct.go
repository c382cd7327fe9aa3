// Package mask rebuilds per-detection masks from prototype tensors and turns
// them into filtered, smoothed polygons.
package mask

import (
	"math"

	"github.com/kiranshivaraju/holdseg/internal/geometry"
)

// Reconstruct computes Σk coeffs[k]·protos[k] over the full M×M grid.
// len(coeffs) must equal protos.C. Summation order is fixed, so the result is
// bit-identical for identical inputs.
func Reconstruct(coeffs []float32, protos geometry.Tensor3) *geometry.Grid[float32] {
	out := geometry.NewGrid[float32](protos.W, protos.H)
	for k, c := range coeffs {
		if c == 0 {
			continue
		}
		plane := protos.Plane(k)
		for i, v := range plane {
			out.Data[i] += c * v
		}
	}
	return out
}

// GridBox is a half-open cell range [X1,X2)×[Y1,Y2) on the mask grid.
type GridBox struct {
	X1, Y1, X2, Y2 int
}

// ToGrid scales a model-space box onto an m×m grid covering an s×s input.
// The range is widened to whole cells and clamped to the grid.
func ToGrid(b geometry.Box, s, m int) GridBox {
	f := float64(m) / float64(s)
	g := b.Scale(f, f)
	clamp := func(v int) int { return min(max(v, 0), m) }
	return GridBox{
		X1: clamp(int(math.Floor(g.X1))),
		Y1: clamp(int(math.Floor(g.Y1))),
		X2: clamp(int(math.Ceil(g.X2))),
		Y2: clamp(int(math.Ceil(g.Y2))),
	}
}

// Crop binarizes mask at 0 inside box and zeroes everything else. It also
// returns the number of set cells.
func Crop(mask *geometry.Grid[float32], box GridBox) (*geometry.Grid[uint8], int) {
	out := geometry.NewGrid[uint8](mask.W, mask.H)
	area := 0
	for y := max(box.Y1, 0); y < min(box.Y2, mask.H); y++ {
		for x := max(box.X1, 0); x < min(box.X2, mask.W); x++ {
			if mask.At(x, y) > 0 {
				out.Set(x, y, 1)
				area++
			}
		}
	}
	return out, area
}
