package cache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/holdseg/internal/cache"
	"github.com/kiranshivaraju/holdseg/internal/jobs"
	"github.com/kiranshivaraju/holdseg/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns its URL.
func setupRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return "redis://" + host + ":" + port.Port()
}

func openRedis(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.Open(context.Background(), setupRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.IsType(t, &cache.RedisCache{}, c)
	return c
}

// --- Redis integration ---

func TestRedis_PredictionRoundtrip(t *testing.T) {
	c := openRedis(t)
	ctx := context.Background()

	set := models.PredictionSet{
		Polygons:    []models.Polygon{{10, 10, 20, 10, 20, 20, 10, 20}},
		ImageWidth:  1920,
		ImageHeight: 1080,
	}
	raw, err := json.Marshal(set)
	require.NoError(t, err)

	key := cache.PredictionKey("onnx:holds.onnx", cache.ContentHash([]byte("wall photo")))
	_, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, key, raw, time.Second))

	got, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, string(raw), string(got))

	time.Sleep(1500 * time.Millisecond)

	_, found, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found, "cached prediction should expire")
}

func TestRedis_Delete(t *testing.T) {
	c := openRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "del:key", []byte("bye"), 10*time.Second))
	require.NoError(t, c.Delete(ctx, "del:key"))

	_, found, err := c.Get(ctx, "del:key")
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, c.Delete(ctx, "does:not:exist"))
}

func TestRedis_JobStatusMirror(t *testing.T) {
	c := openRedis(t)
	ctx := context.Background()

	m := jobs.NewManager(c, time.Minute)
	id := m.Create()

	status, found, err := c.GetJobStatus(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "pending", status)

	require.NoError(t, m.MarkRunning(id))
	require.NoError(t, m.Complete(id, &models.PredictionSet{ImageWidth: 1, ImageHeight: 1}))

	status, found, err = c.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "done", status)

	_, found, err = c.GetJobStatus(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedis_RateLimitWindow(t *testing.T) {
	c := openRedis(t)
	ctx := context.Background()
	key := cache.RateLimitKey("10.0.0." + uuid.NewString()[:4])

	for want := int64(1); want <= 3; want++ {
		n, err := c.IncrWithExpiry(ctx, key, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	time.Sleep(1500 * time.Millisecond)

	// A fresh window starts from 1 again
	n, err := c.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// --- Cache Key Builders ---

func TestPredictionKey(t *testing.T) {
	hash := cache.ContentHash([]byte("hello"))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)

	key := cache.PredictionKey("onnx", hash)
	assert.Equal(t, "prediction:onnx:"+hash, key)
}

func TestJobStatusKey(t *testing.T) {
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	key := cache.JobStatusKey(jobID)
	assert.Equal(t, "job:22222222-2222-2222-2222-222222222222", key)
}

func TestRateLimitKey(t *testing.T) {
	key := cache.RateLimitKey("10.0.0.7")
	assert.Equal(t, "ratelimit:10.0.0.7", key)
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	jobID := uuid.New()
	hash := cache.ContentHash([]byte("image"))

	keys := map[string]bool{
		cache.PredictionKey("onnx", hash):   true,
		cache.PredictionKey("kserve", hash): true,
		cache.JobStatusKey(jobID):           true,
		cache.RateLimitKey("10.0.0.7"):      true,
	}
	assert.Len(t, keys, 4, "all keys should be unique")
}

// --- Nop ---

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c cache.Cache = cache.Nop{}

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	n, err := c.IncrWithExpiry(ctx, "counter", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, found, err = c.GetJobStatus(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, c.Close())
}

func TestOpen_EmptyURLDisablesCache(t *testing.T) {
	c, err := cache.Open(context.Background(), "")
	require.NoError(t, err)
	assert.IsType(t, cache.Nop{}, c)
}

func TestOpen_InvalidURL(t *testing.T) {
	_, err := cache.Open(context.Background(), "mysql://localhost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create redis cache")
}

func TestOpen_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := cache.Open(ctx, "redis://127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}
