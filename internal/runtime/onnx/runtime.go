// Package onnx runs the detection model in-process through ONNX Runtime.
package onnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kiranshivaraju/holdseg/internal/config"
	"github.com/kiranshivaraju/holdseg/pkg/models"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// initEnvironment loads the shared library once per process.
func initEnvironment(libPath string) error {
	initOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// Runtime owns one ONNX Runtime session. It is not safe for concurrent use;
// each worker creates its own.
type Runtime struct {
	session   *ort.DynamicAdvancedSession
	inputName string
	spec      models.OutputSpec
}

// New loads the model at cfg.ModelPath. It fails with ErrModelUnavailable if
// the file is missing or unreadable and ErrMissingOutput if the graph does not
// expose the outputs named in spec.
func New(cfg config.ONNXConfig, spec models.OutputSpec) (*Runtime, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("%w: onnxruntime init: %v", models.ErrModelUnavailable, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading model graph: %v", models.ErrModelUnavailable, err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: model has no inputs", models.ErrModelUnavailable)
	}

	outNames := make([]string, len(outputs))
	for i, o := range outputs {
		outNames[i] = o.Name
	}
	if err := spec.Check(outNames); err != nil {
		return nil, err
	}

	inputName := spec.Input
	if inputName == "" {
		inputName = inputs[0].Name
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("%w: session options: %v", models.ErrModelUnavailable, err)
	}
	defer opts.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("%w: intra-op threads: %v", models.ErrModelUnavailable, err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputName}, []string{spec.Detections, spec.Prototypes}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: creating session: %v", models.ErrModelUnavailable, err)
	}

	return &Runtime{session: session, inputName: inputName, spec: spec}, nil
}

func (r *Runtime) Name() string { return "onnx" }

// Infer runs one forward pass. Output data is copied out of ONNX Runtime
// memory before the native values are released.
func (r *Runtime) Infer(ctx context.Context, input models.Tensor) (models.InferenceOutputs, error) {
	if err := ctx.Err(); err != nil {
		return models.InferenceOutputs{}, err
	}
	if err := input.Validate(); err != nil {
		return models.InferenceOutputs{}, err
	}

	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return models.InferenceOutputs{}, fmt.Errorf("%w: input tensor: %v", models.ErrInference, err)
	}
	defer in.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := r.session.Run([]ort.Value{in}, outputs); err != nil {
		return models.InferenceOutputs{}, fmt.Errorf("%w: %v", models.ErrInference, err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	det, err := copyTensor(outputs[0], r.spec.Detections)
	if err != nil {
		return models.InferenceOutputs{}, err
	}
	protos, err := copyTensor(outputs[1], r.spec.Prototypes)
	if err != nil {
		return models.InferenceOutputs{}, err
	}
	return models.InferenceOutputs{Detections: det, Prototypes: protos}, nil
}

func (r *Runtime) Close() error {
	if r.session == nil {
		return nil
	}
	err := r.session.Destroy()
	r.session = nil
	return err
}

func copyTensor(v ort.Value, name string) (models.Tensor, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok || t == nil {
		return models.Tensor{}, fmt.Errorf("%w: %q is not a float32 tensor", models.ErrMissingOutput, name)
	}
	src := t.GetData()
	data := make([]float32, len(src))
	copy(data, src)
	shape := t.GetShape()
	return models.Tensor{Shape: append([]int64(nil), shape...), Data: data}, nil
}

// Compile-time check that Runtime implements ModelRuntime.
var _ models.ModelRuntime = (*Runtime)(nil)
