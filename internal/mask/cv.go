package mask

import (
	"image"
	"math"

	"github.com/kiranshivaraju/holdseg/internal/geometry"
	"gocv.io/x/gocv"
)

// toMat wraps g as an 8-bit single-channel Mat. The Mat borrows g.Data, so g
// must stay reachable until the Mat is closed.
func toMat(g *geometry.Grid[uint8]) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(g.H, g.W, gocv.MatTypeCV8UC1, g.Data)
}

func toPoints(pts []image.Point) []geometry.Point {
	out := make([]geometry.Point, len(pts))
	for i, p := range pts {
		out[i] = geometry.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return out
}

func toImagePoints(pts []geometry.Point) []image.Point {
	out := make([]image.Point, len(pts))
	for i, p := range pts {
		out[i] = image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	}
	return out
}
