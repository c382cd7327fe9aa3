package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kiranshivaraju/holdseg/internal/cache"
	"github.com/kiranshivaraju/holdseg/internal/config"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// Cached serves repeated uploads of the same bytes from the cache. Cache
// failures never fail a prediction.
type Cached struct {
	next  Predictor
	cache cache.Cache
	model string
	ttl   time.Duration
}

// NewCached wraps next. model scopes the cache keys.
func NewCached(next Predictor, c cache.Cache, model string, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, model: model, ttl: ttl}
}

func (c *Cached) Predict(ctx context.Context, image []byte) (*models.PredictionSet, error) {
	if len(image) == 0 {
		return c.next.Predict(ctx, image)
	}
	key := cache.PredictionKey(c.model, cache.ContentHash(image))

	if raw, found, err := c.cache.Get(ctx, key); err != nil {
		slog.Warn("prediction cache read failed", "error", err)
	} else if found {
		var set models.PredictionSet
		if err := json.Unmarshal(raw, &set); err == nil {
			return &set, nil
		}
		slog.Warn("discarding corrupt cached prediction", "key", key)
		if err := c.cache.Delete(ctx, key); err != nil {
			slog.Warn("prediction cache delete failed", "key", key, "error", err)
		}
	}

	set, err := c.next.Predict(ctx, image)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(set); err == nil {
		if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
			slog.Warn("prediction cache write failed", "error", err)
		}
	}
	return set, nil
}

func (c *Cached) Close() error { return c.next.Close() }

// Loader returns the load function worker units call to build their
// predictor. With a real cache the pipeline is wrapped in Cached.
func Loader(cfg *config.Config, c cache.Cache) func(ctx context.Context) (Predictor, error) {
	return func(ctx context.Context) (Predictor, error) {
		p, err := Load(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if _, off := c.(cache.Nop); c == nil || off {
			return p, nil
		}
		return NewCached(p, c, ModelID(cfg.Model), cfg.Redis.PredictionTTL), nil
	}
}

// ModelID names the loaded model for cache scoping, e.g. "onnx:holds-v3.onnx".
func ModelID(cfg config.ModelConfig) string {
	switch cfg.Runtime {
	case config.RuntimeKServe:
		return cfg.Runtime + ":" + cfg.KServe.Model
	default:
		return cfg.Runtime + ":" + filepath.Base(cfg.ONNX.ModelPath)
	}
}

var _ Predictor = (*Cached)(nil)
