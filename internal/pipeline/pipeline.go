// Package pipeline runs one image through the full segmentation chain:
// letterbox, inference, anchor decoding, NMS and mask-to-polygon conversion.
// A Pipeline owns one model runtime and is not safe for concurrent use; the
// worker pool gives each worker its own.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/holdseg/internal/config"
	"github.com/kiranshivaraju/holdseg/internal/detect"
	"github.com/kiranshivaraju/holdseg/internal/mask"
	"github.com/kiranshivaraju/holdseg/internal/preprocess"
	"github.com/kiranshivaraju/holdseg/internal/runtime"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// Predictor is anything that turns image bytes into polygons.
type Predictor interface {
	Predict(ctx context.Context, image []byte) (*models.PredictionSet, error)
	Close() error
}

// Options holds the tunables of a Pipeline.
type Options struct {
	InputSize int
	Channels  int
	// MaxPixels rejects uploads whose decoded raster is larger. Zero keeps
	// the preprocess default.
	MaxPixels  int
	Confidence float32
	IoU        float64
	// NumCoeffs is the expected mask coefficient count. Zero accepts
	// whatever the prototype tensor carries.
	NumCoeffs int
	Mask      mask.Params
}

// DefaultOptions matches the production model.
func DefaultOptions() Options {
	return Options{
		InputSize:  preprocess.DefaultSize,
		Channels:   preprocess.DefaultChannels,
		Confidence: detect.DefaultConfidence,
		IoU:        0.5,
		NumCoeffs:  detect.DefaultNumCoeffs,
		Mask:       mask.DefaultParams(),
	}
}

// OptionsFromConfig maps env configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	p := cfg.Postprocess
	return Options{
		InputSize:  cfg.Model.InputSize,
		Channels:   cfg.Model.Channels,
		MaxPixels:  cfg.Model.MaxImagePixels,
		Confidence: float32(p.ConfidenceThreshold),
		IoU:        p.IoUThreshold,
		NumCoeffs:  p.NumMaskCoeffs,
		Mask: mask.Params{
			Filters: mask.Filters{
				MaxAreaRatio:   p.MaxAreaRatio,
				MinAreaRatio:   p.MinAreaRatio,
				MaxAspectRatio: p.MaxAspectRatio,
			},
			SmoothRadius:   p.SmoothRadius,
			SmoothSigma:    p.SmoothSigma,
			ExpansionRatio: p.ExpansionRatio,
		},
	}
}

// Pipeline is the per-worker processing chain.
type Pipeline struct {
	opts Options
	pre  *preprocess.Preprocessor
	rt   models.ModelRuntime
}

// New wraps an already loaded runtime.
func New(rt models.ModelRuntime, opts Options) *Pipeline {
	return &Pipeline{
		opts: opts,
		pre:  preprocess.New(opts.InputSize, opts.Channels).WithMaxPixels(opts.MaxPixels),
		rt:   rt,
	}
}

// Load builds the configured runtime and a Pipeline around it. A missing or
// unloadable model is reported as a model_error.
func Load(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	rt, err := runtime.New(ctx, cfg.Model)
	if err != nil {
		return nil, models.NewJobError(models.KindModel, err)
	}
	return New(rt, OptionsFromConfig(cfg)), nil
}

// Name identifies the underlying runtime.
func (p *Pipeline) Name() string { return p.rt.Name() }

func (p *Pipeline) Close() error { return p.rt.Close() }

// Predict runs the whole chain. Every returned error is a *models.JobError.
func (p *Pipeline) Predict(ctx context.Context, image []byte) (*models.PredictionSet, error) {
	start := time.Now()

	in, err := p.pre.Run(image)
	if err != nil {
		return nil, models.AsJobError(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	out, err := p.rt.Infer(ctx, in.Tensor)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(ctxErr)
		}
		return nil, models.NewJobError(models.KindModel, err)
	}

	set, err := p.Postprocess(in.Letterbox, out)
	if err != nil {
		return nil, err
	}

	slog.Debug("prediction finished",
		"runtime", p.rt.Name(),
		"width", set.ImageWidth,
		"height", set.ImageHeight,
		"polygons", len(set.Polygons),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return set, nil
}

// Postprocess converts raw model outputs into polygons in original-image
// space. Polygons are ordered by descending detection confidence.
func (p *Pipeline) Postprocess(lb preprocess.Letterbox, out models.InferenceOutputs) (*models.PredictionSet, error) {
	rec, err := mask.NewReconstructor(p.opts.Mask, out.Prototypes, lb)
	if err != nil {
		return nil, models.NewJobError(models.KindModel, err)
	}
	k := rec.NumCoeffs()
	if p.opts.NumCoeffs > 0 && p.opts.NumCoeffs != k {
		return nil, models.NewJobError(models.KindModel,
			fmt.Errorf("%w: model has %d prototypes, configured for %d", models.ErrShapeMismatch, k, p.opts.NumCoeffs))
	}

	dets, err := detect.NewDecoder(p.opts.Confidence, k).Decode(out.Detections)
	if err != nil {
		return nil, models.NewJobError(models.KindModel, err)
	}

	keep := detect.Suppress(dets, p.opts.IoU)
	polygons := make([]models.Polygon, 0, len(keep))
	for _, i := range keep {
		if poly, ok := rec.Polygon(dets[i]); ok {
			polygons = append(polygons, poly)
		}
	}

	return &models.PredictionSet{
		Polygons:    polygons,
		ImageWidth:  lb.OrigW,
		ImageHeight: lb.OrigH,
	}, nil
}

func contextError(err error) *models.JobError {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewJobError(models.KindTimeout, err)
	}
	return models.NewJobError(models.KindPool, err)
}

var _ Predictor = (*Pipeline)(nil)
