// Package jobs keeps the in-memory table of prediction jobs. Every state
// change goes through Manager, which enforces Pending → Running → Done|Error
// and refuses to touch a job once it is terminal.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/holdseg/internal/cache"
	"github.com/kiranshivaraju/holdseg/pkg/models"

	// lock-order bugs here would stall every poll, so use the detecting mutex
	sync "github.com/sasha-s/go-deadlock"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrExpired           = errors.New("job expired")
	ErrAlreadyTerminal   = errors.New("job already finished")
	ErrInvalidTransition = errors.New("invalid job transition")
)

const mirrorTimeout = time.Second

// Manager is safe for concurrent use.
type Manager struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*models.Job

	cache     cache.Cache
	statusTTL time.Duration
	now       func() time.Time
}

// NewManager creates an empty job table. Status transitions are mirrored
// to c on a best-effort basis; pass cache.Nop{} to disable.
func NewManager(c cache.Cache, statusTTL time.Duration) *Manager {
	if c == nil {
		c = cache.Nop{}
	}
	return &Manager{
		jobs:      make(map[uuid.UUID]*models.Job),
		cache:     c,
		statusTTL: statusTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new pending job and returns its id.
func (m *Manager) Create() uuid.UUID {
	now := m.now()

	m.mu.Lock()
	id := uuid.New()
	for m.jobs[id] != nil {
		id = uuid.New()
	}
	m.jobs[id] = &models.Job{
		ID:        id,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Unlock()

	m.mirror(id, models.JobStatusPending)
	return id
}

// MarkRunning moves a pending job to running.
func (m *Manager) MarkRunning(id uuid.UUID) error {
	return m.transition(id, models.JobStatusRunning, func(j *models.Job) error {
		if j.Status != models.JobStatusPending {
			return fmt.Errorf("%w: %s -> running", ErrInvalidTransition, j.Status)
		}
		return nil
	})
}

// Complete records the result of a job. A job finishes exactly once.
func (m *Manager) Complete(id uuid.UUID, set *models.PredictionSet) error {
	if set == nil {
		return m.Fail(id, models.Errorf(models.KindInternal, "job completed without result"))
	}
	return m.transition(id, models.JobStatusDone, func(j *models.Job) error {
		j.Result = set
		return nil
	})
}

// Fail records a job error. A job finishes exactly once.
func (m *Manager) Fail(id uuid.UUID, jerr *models.JobError) error {
	if jerr == nil {
		jerr = models.Errorf(models.KindInternal, "job failed without error")
	}
	return m.transition(id, models.JobStatusError, func(j *models.Job) error {
		j.Error = jerr
		return nil
	})
}

func (m *Manager) transition(id uuid.UUID, to models.JobStatus, apply func(j *models.Job) error) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.Status.Terminal() {
		from := j.Status
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s, refusing %s", ErrAlreadyTerminal, id, from, to)
	}
	if err := apply(j); err != nil {
		m.mu.Unlock()
		return err
	}
	j.Status = to
	j.UpdatedAt = m.now()
	m.mu.Unlock()

	m.mirror(id, to)
	return nil
}

// Poll returns a snapshot of the job. It never blocks on job execution.
// An id that is no longer in the table but still has a mirrored status
// yields ErrExpired; anything else unknown is ErrNotFound.
func (m *Manager) Poll(id uuid.UUID) (models.JobView, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	var view models.JobView
	if ok {
		view = j.View()
	}
	m.mu.RUnlock()

	if ok {
		return view, nil
	}
	if status, seen := m.lastKnown(id); seen {
		return models.JobView{}, fmt.Errorf("%w: %s was last %s", ErrExpired, id, status)
	}
	return models.JobView{}, ErrNotFound
}

// lastKnown reads the mirrored status of a job this table has forgotten.
func (m *Manager) lastKnown(id uuid.UUID) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	status, found, err := m.cache.GetJobStatus(ctx, id)
	if err != nil {
		slog.Warn("job status lookup failed", "job_id", id, "error", err)
		return "", false
	}
	return status, found
}

// Len returns the number of tracked jobs.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// Sweep forgets terminal jobs last updated more than ttl ago and returns how
// many were removed. Pending and running jobs are never swept.
func (m *Manager) Sweep(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, j := range m.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps expired jobs every interval until ctx is cancelled.
func (m *Manager) RunJanitor(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ttl); n > 0 {
				slog.Info("expired jobs swept", "removed", n, "remaining", m.Len())
			}
		}
	}
}

func (m *Manager) mirror(id uuid.UUID, status models.JobStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := m.cache.SetJobStatus(ctx, id, string(status), m.statusTTL); err != nil {
		slog.Warn("job status mirror failed", "job_id", id, "status", status, "error", err)
	}
}
