package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.TryAcquireMemory(50))
	require.NoError(t, c.TryAcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	assert.ErrorIs(t, c.TryAcquireMemory(20), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	require.NoError(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
	assert.Equal(t, int64(100), c.MemoryLimit())
}

func TestController_TrackOnly(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.TryAcquireMemory(1<<40))
	c.ReleaseMemory(1 << 39)
	assert.Equal(t, int64(1<<39), c.MemoryUsage())
	assert.Equal(t, 4, c.Workers())
}

func TestController_Workers(t *testing.T) {
	c := NewController(Config{MaxFlushWorkers: 1})
	ctx := t.Context()

	require.NoError(t, c.AcquireWorker(ctx))

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireWorker(short))

	c.ReleaseWorker()
	require.NoError(t, c.AcquireWorker(ctx))
	c.ReleaseWorker()
}

func TestController_IOLargerThanBurst(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	// a single rate.Limiter.WaitN call would reject this outright
	require.NoError(t, c.AcquireIO(t.Context(), 1<<20+10))
}

func TestController_IOCancelled(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 10})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.Error(t, c.AcquireIO(ctx, 100))
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	require.NoError(t, c.TryAcquireMemory(10))
	c.ReleaseMemory(10)
	assert.Zero(t, c.MemoryUsage())
	require.NoError(t, c.AcquireWorker(t.Context()))
	c.ReleaseWorker()
	require.NoError(t, c.AcquireIO(t.Context(), 1<<30))
}
