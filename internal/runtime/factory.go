// Package runtime selects and constructs the configured model runtime.
package runtime

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/holdseg/internal/config"
	"github.com/kiranshivaraju/holdseg/internal/runtime/kserve"
	"github.com/kiranshivaraju/holdseg/internal/runtime/onnx"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// New constructs the runtime named by cfg.Runtime. Called once per worker.
// A remote runtime is checked for readiness so that a missing model fails
// here rather than on the first job.
func New(ctx context.Context, cfg config.ModelConfig) (models.ModelRuntime, error) {
	switch cfg.Runtime {
	case config.RuntimeONNX:
		rt, err := onnx.New(cfg.ONNX, cfg.Outputs)
		if err != nil {
			return nil, err
		}
		return rt, nil
	case config.RuntimeKServe:
		c := kserve.NewClient(cfg.KServe, cfg.Outputs)
		if err := c.Ready(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrModelUnavailable, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown model runtime %q: must be one of onnx, kserve", cfg.Runtime)
	}
}
