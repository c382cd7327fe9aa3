package mask

import (
	"fmt"
	"image"
	"runtime"

	"github.com/kiranshivaraju/holdseg/internal/geometry"
	"gocv.io/x/gocv"
)

// Open erodes then dilates a binary grid with the 3×3 elliptical element
// (centre plus 4-neighbours). Cells outside the grid never affect the result.
func Open(g *geometry.Grid[uint8]) (*geometry.Grid[uint8], error) {
	if len(g.Data) == 0 {
		return g.Clone(), nil
	}
	src, err := toMat(g)
	if err != nil {
		return nil, fmt.Errorf("wrap mask: %w", err)
	}
	defer src.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3))
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.MorphologyEx(src, &dst, gocv.MorphOpen, kernel)
	runtime.KeepAlive(g.Data)

	if dst.Rows() != g.H || dst.Cols() != g.W {
		return nil, fmt.Errorf("opened mask is %dx%d, want %dx%d", dst.Cols(), dst.Rows(), g.W, g.H)
	}
	out := geometry.NewGrid[uint8](g.W, g.H)
	copy(out.Data, dst.ToBytes())
	return out, nil
}
