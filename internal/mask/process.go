package mask

import (
	"fmt"
	"math"

	"github.com/kiranshivaraju/holdseg/internal/detect"
	"github.com/kiranshivaraju/holdseg/internal/geometry"
	"github.com/kiranshivaraju/holdseg/internal/preprocess"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// Params controls polygon post-processing.
type Params struct {
	Filters
	SmoothRadius   int
	SmoothSigma    float64
	ExpansionRatio float64
}

// DefaultParams returns the production post-processing settings.
func DefaultParams() Params {
	return Params{
		Filters:        DefaultFilters(),
		SmoothRadius:   2,
		SmoothSigma:    0.75,
		ExpansionRatio: 0.005,
	}
}

// Reconstructor turns kept detections of one inference call into polygons.
// It shares the prototype tensor read-only across detections.
type Reconstructor struct {
	params Params
	protos geometry.Tensor3
	lb     preprocess.Letterbox
}

// NewReconstructor validates a [1, K, M, M] prototype tensor.
func NewReconstructor(p Params, protos models.Tensor, lb preprocess.Letterbox) (*Reconstructor, error) {
	if err := protos.Validate(); err != nil {
		return nil, err
	}
	s := protos.Shape
	if len(s) != 4 || s[0] != 1 {
		return nil, fmt.Errorf("%w: prototype shape %v, want [1 K M M]", models.ErrShapeMismatch, s)
	}
	if s[2] != s[3] {
		return nil, fmt.Errorf("%w: prototype grid %dx%d is not square", models.ErrShapeMismatch, s[2], s[3])
	}
	t, err := geometry.NewTensor3(int(s[1]), int(s[2]), int(s[3]), protos.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrShapeMismatch, err)
	}
	if lb.Size <= 0 || lb.ResizeW <= 0 || lb.ResizeH <= 0 {
		return nil, fmt.Errorf("invalid letterbox %+v", lb)
	}
	return &Reconstructor{params: p, protos: t, lb: lb}, nil
}

// NumCoeffs is K, the number of prototype channels.
func (r *Reconstructor) NumCoeffs() int { return r.protos.C }

// GridSize is M.
func (r *Reconstructor) GridSize() int { return r.protos.W }

// Polygon builds the output ring for d. ok is false when the mask is empty
// or fails the filters.
func (r *Reconstructor) Polygon(d detect.Detection) (poly models.Polygon, ok bool) {
	m := r.protos.W
	if len(d.Coeffs) != r.protos.C {
		return nil, false
	}

	dense := Reconstruct(d.Coeffs, r.protos)
	bin, maskArea := Crop(dense, ToGrid(d.Box, r.lb.Size, m))

	opened, err := Open(bin)
	if err != nil {
		return nil, false
	}
	contour, found, err := LargestContour(opened)
	if err != nil || !found {
		return nil, false
	}
	w, h := MinAreaRect(contour.Points)
	if !r.params.Accept(maskArea, m*m, w, h) {
		return nil, false
	}

	raw := r.toImage(contour.Points)
	smoothed := Smooth(raw, r.params.SmoothRadius, r.params.SmoothSigma)

	iw, ih := float64(r.lb.OrigW), float64(r.lb.OrigH)
	grown := Expand(smoothed, geometry.Centroid(raw), r.params.ExpansionRatio*math.Hypot(iw, ih))

	poly = make(models.Polygon, 0, 2*len(grown))
	for _, p := range grown {
		poly = append(poly, clamp(p.X, 0, iw), clamp(p.Y, 0, ih))
	}
	return poly, true
}

// toImage maps grid cells to model-input space and then through the
// letterbox into original-image pixels.
func (r *Reconstructor) toImage(pts []geometry.Point) []geometry.Point {
	f := float64(r.lb.Size) / float64(r.protos.W)
	out := make([]geometry.Point, len(pts))
	for i, p := range pts {
		x, y := r.lb.ToImage(p.X*f, p.Y*f)
		out[i] = geometry.Point{X: x, Y: y}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
