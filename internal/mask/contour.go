package mask

import (
	"fmt"
	"runtime"

	"github.com/kiranshivaraju/holdseg/internal/geometry"
	"gocv.io/x/gocv"
)

// Contour is the outer boundary of one 8-connected component as grid cell
// coordinates. Consecutive points, including last to first, are 8-adjacent.
type Contour struct {
	Points []geometry.Point
	Area   float64
}

// ExternalContours returns the outer boundary of every 8-connected
// component. Every boundary cell is kept and holes are ignored.
func ExternalContours(g *geometry.Grid[uint8]) ([]Contour, error) {
	if len(g.Data) == 0 {
		return nil, nil
	}
	src, err := toMat(g)
	if err != nil {
		return nil, fmt.Errorf("wrap mask: %w", err)
	}
	defer src.Close()

	cs := gocv.FindContours(src, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer cs.Close()
	runtime.KeepAlive(g.Data)

	out := make([]Contour, 0, cs.Size())
	for i := 0; i < cs.Size(); i++ {
		pv := cs.At(i)
		out = append(out, Contour{
			Points: toPoints(pv.ToPoints()),
			Area:   gocv.ContourArea(pv),
		})
	}
	return out, nil
}

// LargestContour returns the external contour with the largest positive area.
func LargestContour(g *geometry.Grid[uint8]) (Contour, bool, error) {
	cs, err := ExternalContours(g)
	if err != nil {
		return Contour{}, false, err
	}
	best, found := Contour{}, false
	for _, c := range cs {
		if c.Area > best.Area {
			best, found = c, true
		}
	}
	return best, found, nil
}

// MinAreaRect returns the side lengths of the smallest rotated rectangle
// enclosing pts. Collinear input gives a zero side.
func MinAreaRect(pts []geometry.Point) (width, height float64) {
	if len(pts) == 0 {
		return 0, 0
	}
	pv := gocv.NewPointVectorFromPoints(toImagePoints(pts))
	defer pv.Close()
	r := gocv.MinAreaRect2(pv)
	return float64(r.Width), float64(r.Height)
}
