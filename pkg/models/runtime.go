// Package models contains shared data models used across the holdseg codebase.
package models

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for model runtime failures.
var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrMissingOutput    = errors.New("model output missing")
	ErrInference        = errors.New("inference failed")
	ErrShapeMismatch    = errors.New("tensor shape mismatch")
)

// ModelRuntime is the boundary to a loaded detection model. Each worker owns
// exactly one runtime; implementations need not be safe for concurrent use.
type ModelRuntime interface {
	// Infer runs the model on a [1, C, S, S] input tensor.
	Infer(ctx context.Context, input Tensor) (InferenceOutputs, error)
	// Name returns the runtime identifier (e.g., "onnx", "kserve").
	Name() string
	Close() error
}

// Tensor is a dense float32 buffer with an explicit row-major shape.
type Tensor struct {
	Shape []int64   `json:"shape"`
	Data  []float32 `json:"data"`
}

// Elements returns the product of the shape dimensions.
func (t Tensor) Elements() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Validate checks that the data length agrees with the shape.
func (t Tensor) Validate() error {
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: non-positive dimension in %v", ErrShapeMismatch, t.Shape)
		}
	}
	if n := t.Elements(); n != len(t.Data) {
		return fmt.Errorf("%w: shape %v wants %d values, have %d", ErrShapeMismatch, t.Shape, n, len(t.Data))
	}
	return nil
}

// InferenceOutputs holds the two tensors a segmentation model must produce.
type InferenceOutputs struct {
	// Detections is [1, 4+1+K, N], channel-major.
	Detections Tensor
	// Prototypes is [1, K, M, M].
	Prototypes Tensor
}

// OutputSpec names the model tensors a runtime has to expose. Bump Version
// whenever an exported model renames or reorders them.
type OutputSpec struct {
	Version    int    `json:"version"`
	Input      string `json:"input"`
	Detections string `json:"detections"`
	Prototypes string `json:"prototypes"`
}

// DefaultOutputSpec matches YOLO-style segmentation exports. An empty Input
// means the model's first input.
var DefaultOutputSpec = OutputSpec{
	Version:    1,
	Detections: "output0",
	Prototypes: "output1",
}

// Check returns ErrMissingOutput if any required output is absent from names.
func (s OutputSpec) Check(names []string) error {
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	for _, want := range []string{s.Detections, s.Prototypes} {
		if !have[want] {
			return fmt.Errorf("%w: %q (spec v%d, model exposes %v)", ErrMissingOutput, want, s.Version, names)
		}
	}
	return nil
}
