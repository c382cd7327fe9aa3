// Package pool schedules prediction tasks onto a bounded set of isolated
// workers. A single coordinator goroutine owns every worker record and the
// FIFO wait queue; executors talk to it only over channels.
package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/holdseg/internal/pipeline"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

var (
	// ErrUnitCrashed marks a unit that can no longer serve tasks.
	ErrUnitCrashed = errors.New("worker crashed")
	ErrClosed      = errors.New("scheduler closed")
)

// Task is one image to segment on behalf of a job.
type Task struct {
	JobID uuid.UUID
	Image []byte
}

// Unit is one execution unit with its own model instance. A unit runs at
// most one task at a time. Run returns an error wrapping ErrUnitCrashed when
// the unit died and must be discarded.
type Unit interface {
	Run(ctx context.Context, t Task) (*models.PredictionSet, error)
	Close() error
}

// Spawner starts a new Unit. It may block while the model loads.
type Spawner func(ctx context.Context) (Unit, error)

// Reporter receives job transitions. jobs.Manager satisfies it.
type Reporter interface {
	MarkRunning(id uuid.UUID) error
	Complete(id uuid.UUID, set *models.PredictionSet) error
	Fail(id uuid.UUID, jerr *models.JobError) error
}

// LocalUnit runs the pipeline on the calling goroutine.
type LocalUnit struct {
	p pipeline.Predictor
}

// NewLocalUnit wraps a predictor the unit takes ownership of.
func NewLocalUnit(p pipeline.Predictor) *LocalUnit {
	return &LocalUnit{p: p}
}

func (u *LocalUnit) Run(ctx context.Context, t Task) (*models.PredictionSet, error) {
	return u.p.Predict(ctx, t.Image)
}

func (u *LocalUnit) Close() error { return u.p.Close() }

// LocalSpawner returns a Spawner producing in-process units. load is called
// once per unit so each owns its own runtime session.
func LocalSpawner(load func(ctx context.Context) (pipeline.Predictor, error)) Spawner {
	return func(ctx context.Context) (Unit, error) {
		p, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return NewLocalUnit(p), nil
	}
}

// crashError converts a recovered panic into a unit crash.
func crashError(r any) error {
	return fmt.Errorf("%w: panic: %v", ErrUnitCrashed, r)
}

var _ Unit = (*LocalUnit)(nil)
