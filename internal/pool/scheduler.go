package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kiranshivaraju/holdseg/pkg/models"
)

// Stats is a snapshot of pool occupancy.
type Stats struct {
	MaxWorkers int `json:"max_workers"`
	Live       int `json:"live"`
	Busy       int `json:"busy"`
	Queued     int `json:"queued"`
}

// Config controls a Scheduler.
type Config struct {
	MaxWorkers int
	// TaskTimeout bounds a single task. Zero disables the deadline.
	TaskTimeout time.Duration
}

type worker struct {
	id   int
	unit Unit
	busy bool
}

// completion is sent by an executor when its worker becomes free again.
type completion struct {
	w    *worker
	unit Unit
	// retire drops the worker instead of returning it to the idle set.
	retire bool
	reason string
}

// Scheduler dispatches tasks to at most MaxWorkers units.
type Scheduler struct {
	cfg      Config
	spawn    Spawner
	reporter Reporter

	ctx    context.Context
	cancel context.CancelFunc

	submitCh chan Task
	doneCh   chan completion
	statsCh  chan chan Stats

	stopOnce sync.Once
	stopping chan struct{}
	stopped  chan struct{}

	// Owned by the coordinator goroutine.
	workers []*worker
	queue   []Task
	nextID  int
}

// New starts a Scheduler. Workers are spawned lazily on demand.
func New(cfg Config, spawn Spawner, reporter Reporter) *Scheduler {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:      cfg,
		spawn:    spawn,
		reporter: reporter,
		ctx:      ctx,
		cancel:   cancel,
		submitCh: make(chan Task),
		doneCh:   make(chan completion),
		statsCh:  make(chan chan Stats),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.loop()
	return s
}

// Submit hands t to the coordinator. It does not wait for execution.
func (s *Scheduler) Submit(t Task) error {
	select {
	case <-s.stopping:
		return ErrClosed
	default:
	}
	select {
	case s.submitCh <- t:
		return nil
	case <-s.stopping:
		return ErrClosed
	}
}

// Stats returns current occupancy. After shutdown it returns zero counts.
func (s *Scheduler) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case s.statsCh <- reply:
		return <-reply
	case <-s.stopped:
		return Stats{MaxWorkers: s.cfg.MaxWorkers}
	}
}

// Shutdown stops accepting tasks, fails everything still queued, and waits
// for in-flight tasks. If ctx expires first, in-flight tasks are cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopping) })
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.stopped
		return ctx.Err()
	}
}

func (s *Scheduler) loop() {
	defer close(s.stopped)
	defer s.cancel()

	for {
		select {
		case t := <-s.submitCh:
			s.dispatch(t)
		case c := <-s.doneCh:
			s.release(c)
		case reply := <-s.statsCh:
			reply <- s.stats()
		case <-s.stopping:
			s.drain()
			return
		}
	}
}

// dispatch prefers an idle worker, then a new one, then the wait queue.
func (s *Scheduler) dispatch(t Task) {
	for _, w := range s.workers {
		if !w.busy {
			s.assign(w, t)
			return
		}
	}
	if len(s.workers) < s.cfg.MaxWorkers {
		s.nextID++
		w := &worker{id: s.nextID}
		s.workers = append(s.workers, w)
		s.assign(w, t)
		return
	}
	s.queue = append(s.queue, t)
}

func (s *Scheduler) assign(w *worker, t Task) {
	w.busy = true
	go s.execute(w, w.unit, t)
}

// release returns a worker to the pool and hands it the oldest queued task
// before anything newly submitted can claim it.
func (s *Scheduler) release(c completion) {
	w := c.w
	w.unit = c.unit

	if c.retire {
		s.remove(w)
		if w.unit != nil {
			go closeUnit(w.id, w.unit)
		}
		slog.Warn("worker retired", "worker_id", w.id, "reason", c.reason)
	} else {
		w.busy = false
	}

	if len(s.queue) == 0 {
		return
	}
	next := s.queue[0]
	s.queue[0] = Task{}
	s.queue = s.queue[1:]

	if c.retire {
		s.dispatch(next)
	} else {
		s.assign(w, next)
	}
}

func (s *Scheduler) remove(w *worker) {
	for i, x := range s.workers {
		if x == w {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) stats() Stats {
	st := Stats{MaxWorkers: s.cfg.MaxWorkers, Live: len(s.workers), Queued: len(s.queue)}
	for _, w := range s.workers {
		if w.busy {
			st.Busy++
		}
	}
	return st
}

// drain fails queued tasks, waits for busy workers and closes every unit.
func (s *Scheduler) drain() {
	for _, t := range s.queue {
		s.report(s.reporter.Fail(t.JobID, models.NewJobError(models.KindPool, ErrClosed)), t)
	}
	s.queue = nil

	for s.stats().Busy > 0 {
		select {
		case c := <-s.doneCh:
			s.release(c)
		case reply := <-s.statsCh:
			reply <- s.stats()
		}
	}

	for _, w := range s.workers {
		if w.unit != nil {
			closeUnit(w.id, w.unit)
		}
	}
	s.workers = nil
}

// execute runs on its own goroutine, one per assigned task.
func (s *Scheduler) execute(w *worker, unit Unit, t Task) {
	c := completion{w: w, unit: unit}
	defer func() { s.doneCh <- c }()

	s.report(s.reporter.MarkRunning(t.JobID), t)

	if unit == nil {
		u, err := s.spawn(s.ctx)
		if err != nil {
			jerr := models.AsJobError(err)
			if jerr.Kind == models.KindInternal {
				jerr = models.NewJobError(models.KindModel, err)
			}
			slog.Error("failed to spawn worker", "worker_id", w.id, "job_id", t.JobID, "error", err)
			s.report(s.reporter.Fail(t.JobID, jerr), t)
			c.retire, c.reason = true, "spawn failed"
			return
		}
		unit = u
		c.unit = u
	}

	ctx, cancel := s.taskContext()
	defer cancel()

	type outcome struct {
		set *models.PredictionSet
		err error
	}
	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in worker", "worker_id", w.id, "job_id", t.JobID, "error", r, "stack", string(debug.Stack()))
				results <- outcome{err: crashError(r)}
			}
		}()
		set, err := unit.Run(ctx, t)
		results <- outcome{set: set, err: err}
	}()

	var out outcome
	received := false
	select {
	case out = <-results:
		received = true
	case <-ctx.Done():
	}
	if ctx.Err() != nil && (!received || out.err != nil) {
		// The job is failed now; the worker keeps its slot until it stops.
		s.report(s.reporter.Fail(t.JobID, s.cancelledError(ctx)), t)
		c.retire, c.reason = true, "task abandoned"
		if !received {
			<-results
		}
		return
	}

	switch {
	case out.err == nil:
		s.report(s.reporter.Complete(t.JobID, out.set), t)
	case errors.Is(out.err, ErrUnitCrashed):
		s.report(s.reporter.Fail(t.JobID, models.NewJobError(models.KindPool, out.err)), t)
		c.retire, c.reason = true, out.err.Error()
	default:
		s.report(s.reporter.Fail(t.JobID, models.AsJobError(out.err)), t)
	}
}

func (s *Scheduler) taskContext() (context.Context, context.CancelFunc) {
	if s.cfg.TaskTimeout > 0 {
		return context.WithTimeout(s.ctx, s.cfg.TaskTimeout)
	}
	return context.WithCancel(s.ctx)
}

func (s *Scheduler) cancelledError(ctx context.Context) *models.JobError {
	if s.ctx.Err() != nil {
		return models.NewJobError(models.KindPool, fmt.Errorf("%w: task cancelled", ErrClosed))
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.Errorf(models.KindTimeout, "task exceeded %s", s.cfg.TaskTimeout)
	}
	return models.NewJobError(models.KindPool, ctx.Err())
}

func (s *Scheduler) report(err error, t Task) {
	if err != nil {
		slog.Warn("job transition rejected", "job_id", t.JobID, "error", err)
	}
}

func closeUnit(id int, u Unit) {
	if err := u.Close(); err != nil {
		slog.Warn("closing worker", "worker_id", id, "error", err)
	}
}
