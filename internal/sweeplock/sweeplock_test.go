package sweeplock_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SimBank/internal/sweeplock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SingleHolder(t *testing.T) {
	g := sweeplock.NewLocal()
	ctx := context.Background()

	release, ok, err := g.TryAcquire(ctx, "daily")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.TryAcquire(ctx, "daily")
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	_, ok, _ = g.TryAcquire(ctx, "other")
	assert.True(t, ok, "keys are independent")

	release()
	release() // idempotent
	assert.False(t, g.Held("daily"))

	_, ok, _ = g.TryAcquire(ctx, "daily")
	assert.True(t, ok)
}

func TestLocal_ConcurrentAcquire(t *testing.T) {
	g := sweeplock.NewLocal()
	var winners atomic.Int32
	var wg sync.WaitGroup

	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := g.TryAcquire(context.Background(), "daily"); ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestRedis_SingleHolder(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := sweeplock.Connect(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	g := sweeplock.NewRedis(client, "simbank:test:", 5*time.Second)
	require.NoError(t, g.Ping(ctx))

	release, ok, err := g.TryAcquire(ctx, "daily")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g.TryAcquire(ctx, "daily")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := g.TryAcquire(ctx, "daily")
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}
