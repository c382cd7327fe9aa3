// Package detect extracts candidate detections from a segmentation model's
// raw output and reduces them with greedy non-max suppression.
package detect

import (
	"fmt"

	"github.com/kiranshivaraju/holdseg/internal/geometry"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

const (
	// boxRows holds cx, cy, w, h.
	boxRows  = 4
	scoreRow = 4
	// coeffOffset is the first mask-coefficient row.
	coeffOffset = 5

	DefaultConfidence = 0.25
	DefaultNumCoeffs  = 32
)

// Detection is one candidate box in model-input space.
type Detection struct {
	Box        geometry.Box
	Confidence float32
	Coeffs     []float32
	// Anchor is the originating column of the detection tensor.
	Anchor int
}

// Decoder reads a channel-major [1, 4+1+K, N] detection tensor.
type Decoder struct {
	Threshold float32
	// NumCoeffs is K. Zero derives it from the tensor shape.
	NumCoeffs int
}

// NewDecoder returns a Decoder with the given confidence threshold and coefficient count.
func NewDecoder(threshold float32, numCoeffs int) Decoder {
	return Decoder{Threshold: threshold, NumCoeffs: numCoeffs}
}

// Decode returns every anchor whose confidence is at or above the threshold,
// in anchor order.
func (d Decoder) Decode(t models.Tensor) ([]Detection, error) {
	rows, n, err := d.layout(t)
	if err != nil {
		return nil, err
	}
	k := rows - coeffOffset
	data := t.Data

	var out []Detection
	for i := 0; i < n; i++ {
		conf := data[scoreRow*n+i]
		// NaN fails every comparison, so it is dropped here
		if !(conf >= d.Threshold) {
			continue
		}
		coeffs := make([]float32, k)
		for j := 0; j < k; j++ {
			coeffs[j] = data[(coeffOffset+j)*n+i]
		}
		out = append(out, Detection{
			Box: geometry.FromCenter(
				float64(data[i]),
				float64(data[n+i]),
				float64(data[2*n+i]),
				float64(data[3*n+i]),
			),
			Confidence: conf,
			Coeffs:     coeffs,
			Anchor:     i,
		})
	}
	return out, nil
}

// layout validates the tensor and returns its row count and anchor count.
func (d Decoder) layout(t models.Tensor) (rows, anchors int, err error) {
	if err := t.Validate(); err != nil {
		return 0, 0, err
	}
	shape := t.Shape
	if len(shape) == 3 {
		if shape[0] != 1 {
			return 0, 0, fmt.Errorf("%w: batch size %d, want 1", models.ErrShapeMismatch, shape[0])
		}
		shape = shape[1:]
	}
	if len(shape) != 2 {
		return 0, 0, fmt.Errorf("%w: detection tensor rank %d", models.ErrShapeMismatch, len(t.Shape))
	}
	rows, anchors = int(shape[0]), int(shape[1])
	if rows <= coeffOffset {
		return 0, 0, fmt.Errorf("%w: %d rows leaves no mask coefficients", models.ErrShapeMismatch, rows)
	}
	if d.NumCoeffs > 0 && rows != boxRows+1+d.NumCoeffs {
		return 0, 0, fmt.Errorf("%w: %d rows, want %d for %d coefficients",
			models.ErrShapeMismatch, rows, boxRows+1+d.NumCoeffs, d.NumCoeffs)
	}
	return rows, anchors, nil
}
