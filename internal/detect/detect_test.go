package detect_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/kiranshivaraju/holdseg/internal/detect"
	"github.com/kiranshivaraju/holdseg/internal/geometry"
	"github.com/kiranshivaraju/holdseg/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type anchor struct {
	cx, cy, w, h, conf float32
	coeffs             []float32
}

// packTensor lays anchors out channel-major as the model does.
func packTensor(k int, anchors []anchor) models.Tensor {
	rows, n := 5+k, len(anchors)
	data := make([]float32, rows*n)
	for i, a := range anchors {
		data[i] = a.cx
		data[n+i] = a.cy
		data[2*n+i] = a.w
		data[3*n+i] = a.h
		data[4*n+i] = a.conf
		for j, c := range a.coeffs {
			data[(5+j)*n+i] = c
		}
	}
	return models.Tensor{Shape: []int64{1, int64(rows), int64(n)}, Data: data}
}

func TestDecode_FiltersAndConverts(t *testing.T) {
	tensor := packTensor(2, []anchor{
		{cx: 100, cy: 100, w: 20, h: 10, conf: 0.9, coeffs: []float32{1, -1}},
		{cx: 300, cy: 300, w: 40, h: 40, conf: 0.1, coeffs: []float32{2, 2}},
		{cx: 500, cy: 200, w: 8, h: 8, conf: 0.25, coeffs: []float32{0.5, 0.25}},
	})

	dets, err := detect.NewDecoder(0.25, 2).Decode(tensor)
	require.NoError(t, err)
	require.Len(t, dets, 2)

	assert.Equal(t, 0, dets[0].Anchor)
	assert.Equal(t, geometry.Box{X1: 90, Y1: 95, X2: 110, Y2: 105}, dets[0].Box)
	assert.Equal(t, []float32{1, -1}, dets[0].Coeffs)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)

	assert.Equal(t, 2, dets[1].Anchor, "threshold is inclusive")
	assert.Equal(t, []float32{0.5, 0.25}, dets[1].Coeffs)
}

func TestDecode_DropsNaNConfidence(t *testing.T) {
	nan := float32(math.NaN())
	tensor := packTensor(1, []anchor{
		{cx: 10, cy: 10, w: 4, h: 4, conf: nan, coeffs: []float32{1}},
		{cx: 20, cy: 20, w: 4, h: 4, conf: 0.8, coeffs: []float32{1}},
	})

	dets, err := detect.NewDecoder(0.25, 1).Decode(tensor)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].Anchor)

	dets, err = detect.NewDecoder(0, 1).Decode(tensor)
	require.NoError(t, err)
	require.Len(t, dets, 1, "a zero threshold still rejects NaN")
}

func TestDecode_DerivesCoefficientCount(t *testing.T) {
	tensor := packTensor(3, []anchor{{cx: 1, cy: 1, w: 1, h: 1, conf: 1, coeffs: []float32{1, 2, 3}}})
	dets, err := detect.NewDecoder(0.5, 0).Decode(tensor)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Len(t, dets[0].Coeffs, 3)
}

func TestDecode_AcceptsUnbatchedShape(t *testing.T) {
	tensor := packTensor(1, []anchor{{cx: 1, cy: 1, w: 1, h: 1, conf: 1, coeffs: []float32{1}}})
	tensor.Shape = tensor.Shape[1:]
	_, err := detect.NewDecoder(0.5, 1).Decode(tensor)
	assert.NoError(t, err)
}

func TestDecode_ShapeErrors(t *testing.T) {
	tests := []struct {
		name   string
		tensor models.Tensor
	}{
		{"length mismatch", models.Tensor{Shape: []int64{1, 7, 4}, Data: make([]float32, 10)}},
		{"wrong coefficient count", packTensor(4, []anchor{{conf: 1}})},
		{"no coefficient rows", models.Tensor{Shape: []int64{1, 5, 2}, Data: make([]float32, 10)}},
		{"batch of two", models.Tensor{Shape: []int64{2, 7, 1}, Data: make([]float32, 14)}},
		{"rank four", models.Tensor{Shape: []int64{1, 1, 7, 1}, Data: make([]float32, 7)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := detect.NewDecoder(0.25, 2).Decode(tt.tensor)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrShapeMismatch))
		})
	}
}

func TestSuppress_OverlappingPair(t *testing.T) {
	// Two boxes with IoU 0.9.
	a := geometry.Box{X1: 0, Y1: 0, X2: 100, Y2: 100}
	b := geometry.Box{X1: 0, Y1: 0, X2: 100, Y2: 90}
	require.InDelta(t, 0.9, geometry.IoU(a, b), 1e-9)

	dets := []detect.Detection{
		{Box: b, Confidence: 0.6, Anchor: 0},
		{Box: a, Confidence: 0.9, Anchor: 1},
	}
	kept := detect.Suppress(dets, 0.5)
	require.Equal(t, []int{1}, kept)
	assert.InDelta(t, 0.9, dets[kept[0]].Confidence, 1e-6)
}

func TestSuppress_KeepsDisjoint(t *testing.T) {
	dets := []detect.Detection{
		{Box: geometry.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.5},
		{Box: geometry.Box{X1: 20, Y1: 20, X2: 30, Y2: 30}, Confidence: 0.7},
		{Box: geometry.Box{X1: 40, Y1: 40, X2: 50, Y2: 50}, Confidence: 0.6},
	}
	assert.Equal(t, []int{1, 2, 0}, detect.Suppress(dets, 0.5))
}

func TestSuppress_TiesKeepInputOrder(t *testing.T) {
	box := geometry.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	dets := []detect.Detection{
		{Box: box, Confidence: 0.8, Anchor: 5},
		{Box: box, Confidence: 0.8, Anchor: 9},
	}
	assert.Equal(t, []int{0}, detect.Suppress(dets, 0.5))
}

func TestSuppress_Empty(t *testing.T) {
	assert.Empty(t, detect.Suppress(nil, 0.5))
}

func TestSuppress_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(60)
		dets := make([]detect.Detection, n)
		for i := range dets {
			x, y := rng.Float64()*200, rng.Float64()*200
			w, h := 5+rng.Float64()*60, 5+rng.Float64()*60
			dets[i] = detect.Detection{
				Box:        geometry.Box{X1: x, Y1: y, X2: x + w, Y2: y + h},
				Confidence: float32(rng.Intn(10)) / 10,
				Anchor:     i,
			}
		}
		threshold := 0.3 + rng.Float64()*0.4

		kept := detect.Suppress(dets, threshold)
		require.LessOrEqual(t, len(kept), n)
		require.NotEmpty(t, kept)
		for i := 0; i < len(kept); i++ {
			if i > 0 {
				assert.GreaterOrEqual(t, dets[kept[i-1]].Confidence, dets[kept[i]].Confidence)
			}
			for j := i + 1; j < len(kept); j++ {
				assert.LessOrEqual(t, geometry.IoU(dets[kept[i]].Box, dets[kept[j]].Box), threshold)
			}
		}
	}
}
