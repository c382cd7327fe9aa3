// Package mock provides a scriptable models.ModelRuntime for tests and for
// running the service without a model file.
package mock

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kiranshivaraju/holdseg/internal/geometry"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// Runtime satisfies models.ModelRuntime for testing.
type Runtime struct {
	Name_     string
	InferFunc func(ctx context.Context, input models.Tensor) (models.InferenceOutputs, error)

	calls  atomic.Int64
	closed atomic.Bool
}

func (r *Runtime) Name() string { return r.Name_ }

func (r *Runtime) Infer(ctx context.Context, input models.Tensor) (models.InferenceOutputs, error) {
	r.calls.Add(1)
	if r.InferFunc != nil {
		return r.InferFunc(ctx, input)
	}
	return models.InferenceOutputs{}, nil
}

func (r *Runtime) Close() error {
	r.closed.Store(true)
	return nil
}

// Calls returns how many times Infer has been invoked.
func (r *Runtime) Calls() int { return int(r.calls.Load()) }

// Closed reports whether Close has been called.
func (r *Runtime) Closed() bool { return r.closed.Load() }

// NewRuntime returns a Runtime that always produces out.
func NewRuntime(out models.InferenceOutputs) *Runtime {
	return &Runtime{
		Name_: "mock",
		InferFunc: func(_ context.Context, _ models.Tensor) (models.InferenceOutputs, error) {
			return out, nil
		},
	}
}

// NewFailingRuntime returns a Runtime that always returns the given error.
func NewFailingRuntime(err error) *Runtime {
	return &Runtime{
		Name_: "mock-failing",
		InferFunc: func(_ context.Context, _ models.Tensor) (models.InferenceOutputs, error) {
			return models.InferenceOutputs{}, err
		},
	}
}

// NewTimeoutRuntime returns a Runtime that blocks until the context is cancelled.
func NewTimeoutRuntime() *Runtime {
	return &Runtime{
		Name_: "mock-timeout",
		InferFunc: func(ctx context.Context, _ models.Tensor) (models.InferenceOutputs, error) {
			<-ctx.Done()
			return models.InferenceOutputs{}, fmt.Errorf("%w: %v", models.ErrInference, ctx.Err())
		},
	}
}

// NewPanickingRuntime returns a Runtime whose Infer panics, standing in for a
// crashed native session.
func NewPanickingRuntime() *Runtime {
	return &Runtime{
		Name_: "mock-panicking",
		InferFunc: func(_ context.Context, _ models.Tensor) (models.InferenceOutputs, error) {
			panic("mock: simulated runtime crash")
		},
	}
}

// SquareOutputs builds model outputs for a single-coefficient model that
// detects exactly one object: box, given in model-input space of side size,
// with confidence 0.95. The prototype grid has side m and is positive inside
// the box only. Two decoy anchors sit below any sane confidence threshold.
func SquareOutputs(box geometry.Box, size, m int) models.InferenceOutputs {
	const anchors = 3
	const rows = 4 + 1 + 1

	det := make([]float32, rows*anchors)
	set := func(row, anchor int, v float64) { det[row*anchors+anchor] = float32(v) }

	cx, cy := (box.X1+box.X2)/2, (box.Y1+box.Y2)/2
	set(0, 0, cx)
	set(1, 0, cy)
	set(2, 0, box.Width())
	set(3, 0, box.Height())
	set(4, 0, 0.95)
	set(5, 0, 1)
	for a := 1; a < anchors; a++ {
		set(0, a, cx)
		set(1, a, cy)
		set(2, a, box.Width()/2)
		set(3, a, box.Height()/2)
		set(4, a, 0.01)
		set(5, a, 1)
	}

	scale := float64(m) / float64(size)
	gb := geometry.Box{X1: box.X1 * scale, Y1: box.Y1 * scale, X2: box.X2 * scale, Y2: box.Y2 * scale}
	protos := make([]float32, m*m)
	for y := 0; y < m; y++ {
		for x := 0; x < m; x++ {
			v := float32(-1)
			if float64(x) >= gb.X1 && float64(x) < gb.X2 && float64(y) >= gb.Y1 && float64(y) < gb.Y2 {
				v = 1
			}
			protos[y*m+x] = v
		}
	}

	return models.InferenceOutputs{
		Detections: models.Tensor{Shape: []int64{1, rows, anchors}, Data: det},
		Prototypes: models.Tensor{Shape: []int64{1, 1, int64(m), int64(m)}, Data: protos},
	}
}

// Compile-time check that Runtime implements ModelRuntime.
var _ models.ModelRuntime = (*Runtime)(nil)
