package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/holdseg/internal/cache"
	"github.com/kiranshivaraju/holdseg/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusCache records mirrored statuses.
type statusCache struct {
	cache.Nop
	mu       sync.Mutex
	statuses map[uuid.UUID][]string
	fail     bool
}

func newStatusCache() *statusCache {
	return &statusCache{statuses: map[uuid.UUID][]string{}}
}

func (c *statusCache) SetJobStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	if c.fail {
		return errors.New("redis: connection refused")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = append(c.statuses[id], status)
	return nil
}

func (c *statusCache) GetJobStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	if c.fail {
		return "", false, errors.New("redis: connection refused")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := c.statuses[id]
	if len(seen) == 0 {
		return "", false, nil
	}
	return seen[len(seen)-1], true, nil
}

func result() *models.PredictionSet {
	return &models.PredictionSet{
		Polygons:    []models.Polygon{{1, 1, 5, 1, 5, 5}},
		ImageWidth:  10,
		ImageHeight: 10,
	}
}

func TestCreateAndPoll(t *testing.T) {
	m := NewManager(cache.Nop{}, time.Minute)

	id := m.Create()
	view, err := m.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, id, view.ID)
	assert.Equal(t, models.JobStatusPending, view.Status)
	assert.Nil(t, view.Predictions)
	assert.Nil(t, view.Error)
	assert.Equal(t, 1, m.Len())
}

func TestCreate_UniqueIDs(t *testing.T) {
	m := NewManager(nil, time.Minute)
	seen := map[uuid.UUID]bool{}
	for i := 0; i < 1000; i++ {
		id := m.Create()
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestPoll_NotFound(t *testing.T) {
	m := NewManager(nil, time.Minute)
	_, err := m.Poll(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLifecycle_Done(t *testing.T) {
	m := NewManager(nil, time.Minute)
	id := m.Create()

	require.NoError(t, m.MarkRunning(id))
	view, _ := m.Poll(id)
	assert.Equal(t, models.JobStatusRunning, view.Status)

	require.NoError(t, m.Complete(id, result()))
	view, err := m.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, view.Status)
	require.Len(t, view.Predictions, 1)
	assert.Equal(t, &models.ImageSize{Width: 10, Height: 10}, view.ImageSize)
	assert.Nil(t, view.Error)
}

func TestLifecycle_Error(t *testing.T) {
	m := NewManager(nil, time.Minute)
	id := m.Create()

	require.NoError(t, m.MarkRunning(id))
	require.NoError(t, m.Fail(id, models.Errorf(models.KindModel, "model.onnx not found")))

	view, err := m.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, view.Status)
	require.NotNil(t, view.Error)
	assert.Equal(t, models.KindModel, view.Error.Kind)
	assert.Nil(t, view.Predictions)
}

func TestFail_FromPending(t *testing.T) {
	m := NewManager(nil, time.Minute)
	id := m.Create()

	require.NoError(t, m.Fail(id, models.Errorf(models.KindPool, "scheduler closed")))
	view, _ := m.Poll(id)
	assert.Equal(t, models.JobStatusError, view.Status)
}

func TestTerminalIsFinal(t *testing.T) {
	m := NewManager(nil, time.Minute)
	id := m.Create()
	require.NoError(t, m.MarkRunning(id))
	require.NoError(t, m.Complete(id, result()))

	err := m.Complete(id, &models.PredictionSet{ImageWidth: 99})
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	err = m.Fail(id, models.Errorf(models.KindInternal, "late failure"))
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	err = m.MarkRunning(id)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	view, _ := m.Poll(id)
	assert.Equal(t, models.JobStatusDone, view.Status)
	assert.Equal(t, 10, view.ImageSize.Width)
	assert.Nil(t, view.Error)
}

func TestMarkRunning_Twice(t *testing.T) {
	m := NewManager(nil, time.Minute)
	id := m.Create()
	require.NoError(t, m.MarkRunning(id))
	assert.ErrorIs(t, m.MarkRunning(id), ErrInvalidTransition)
}

func TestTransitions_UnknownJob(t *testing.T) {
	m := NewManager(nil, time.Minute)
	id := uuid.New()
	assert.ErrorIs(t, m.MarkRunning(id), ErrNotFound)
	assert.ErrorIs(t, m.Complete(id, result()), ErrNotFound)
	assert.ErrorIs(t, m.Fail(id, models.Errorf(models.KindModel, "x")), ErrNotFound)
}

func TestComplete_NilResultFails(t *testing.T) {
	m := NewManager(nil, time.Minute)
	id := m.Create()
	require.NoError(t, m.Complete(id, nil))

	view, _ := m.Poll(id)
	assert.Equal(t, models.JobStatusError, view.Status)
	assert.Equal(t, models.KindInternal, view.Error.Kind)
}

func TestDoneWithNoPolygons(t *testing.T) {
	m := NewManager(nil, time.Minute)
	id := m.Create()
	require.NoError(t, m.Complete(id, &models.PredictionSet{ImageWidth: 4, ImageHeight: 4}))

	view, _ := m.Poll(id)
	assert.NotNil(t, view.Predictions)
	assert.Empty(t, view.Predictions)
}

func TestConcurrentFinishersOnlyOneWins(t *testing.T) {
	m := NewManager(nil, time.Minute)
	id := m.Create()
	require.NoError(t, m.MarkRunning(id))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = m.Complete(id, result())
			} else {
				err = m.Fail(id, models.Errorf(models.KindPool, "crash"))
			}
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStatusMirror(t *testing.T) {
	sc := newStatusCache()
	m := NewManager(sc, time.Minute)

	id := m.Create()
	require.NoError(t, m.MarkRunning(id))
	require.NoError(t, m.Complete(id, result()))
	_ = m.Fail(id, models.Errorf(models.KindInternal, "ignored"))

	assert.Equal(t, []string{"pending", "running", "done"}, sc.statuses[id])
}

func TestStatusMirror_FailureIsIgnored(t *testing.T) {
	sc := newStatusCache()
	sc.fail = true
	m := NewManager(sc, time.Minute)

	id := m.Create()
	require.NoError(t, m.MarkRunning(id))
	view, err := m.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, view.Status)
}

func TestSweep(t *testing.T) {
	m := NewManager(nil, time.Minute)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	done := m.Create()
	require.NoError(t, m.Complete(done, result()))
	failed := m.Create()
	require.NoError(t, m.Fail(failed, models.Errorf(models.KindDecode, "bad bytes")))
	running := m.Create()
	require.NoError(t, m.MarkRunning(running))
	pending := m.Create()

	clock = clock.Add(30 * time.Minute)
	assert.Zero(t, m.Sweep(time.Hour))

	clock = clock.Add(31 * time.Minute)
	assert.Equal(t, 2, m.Sweep(time.Hour))

	_, err := m.Poll(done)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Poll(failed)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Poll(running)
	assert.NoError(t, err)
	_, err = m.Poll(pending)
	assert.NoError(t, err)
}

func TestRunJanitor(t *testing.T) {
	m := NewManager(nil, time.Minute)
	id := m.Create()
	require.NoError(t, m.Complete(id, result()))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		m.RunJanitor(ctx, 5*time.Millisecond, time.Nanosecond)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestPoll_SweptJobWithMirrorIsExpired(t *testing.T) {
	c := newStatusCache()
	m := NewManager(c, time.Minute)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	id := m.Create()
	require.NoError(t, m.Complete(id, result()))
	clock = clock.Add(2 * time.Hour)
	require.Equal(t, 1, m.Sweep(time.Hour))

	_, err := m.Poll(id)
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "done")

	_, err = m.Poll(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound, "never mirrored")
}

func TestPoll_MirrorLookupFailureIsNotFound(t *testing.T) {
	c := newStatusCache()
	m := NewManager(c, time.Minute)
	id := m.Create()
	require.NoError(t, m.Fail(id, models.Errorf(models.KindModel, "x")))
	m.Sweep(-time.Second)

	c.fail = true
	_, err := m.Poll(id)
	assert.ErrorIs(t, err, ErrNotFound)
}
