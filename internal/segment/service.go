// Package segment is the entry point used by transports: submit an image,
// get a job id back immediately, poll until the job is done.
package segment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/holdseg/internal/jobs"
	"github.com/kiranshivaraju/holdseg/internal/pool"
	"github.com/kiranshivaraju/holdseg/pkg/models"
)

var ErrEmptyImage = errors.New("image payload is empty")

// Scheduler is the part of pool.Scheduler the service needs.
type Scheduler interface {
	Submit(t pool.Task) error
	Stats() pool.Stats
}

// Service wires the job table to the worker pool.
type Service struct {
	jobs  *jobs.Manager
	sched Scheduler
}

// NewService creates a Service. The scheduler must report to m.
func NewService(m *jobs.Manager, s Scheduler) *Service {
	return &Service{jobs: m, sched: s}
}

// Submit registers a job for image and queues it. It never waits for the
// prediction itself.
func (s *Service) Submit(image []byte) (uuid.UUID, error) {
	if len(image) == 0 {
		return uuid.Nil, models.NewJobError(models.KindInput, ErrEmptyImage)
	}

	id := s.jobs.Create()
	if err := s.sched.Submit(pool.Task{JobID: id, Image: image}); err != nil {
		_ = s.jobs.Fail(id, models.NewJobError(models.KindPool, err))
		return uuid.Nil, fmt.Errorf("queueing job %s: %w", id, err)
	}
	return id, nil
}

// Poll returns the current view of a job, or jobs.ErrNotFound.
func (s *Service) Poll(id uuid.UUID) (models.JobView, error) {
	return s.jobs.Poll(id)
}

// Stats reports pool occupancy and the number of tracked jobs.
func (s *Service) Stats() (pool.Stats, int) {
	return s.sched.Stats(), s.jobs.Len()
}

// Compile-time check that the job table can receive pool reports.
var _ pool.Reporter = (*jobs.Manager)(nil)
