package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeyedLockerExcludesSameKey(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "ent-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "ent-1")
	require.NoError(t, err)
	assert.False(t, ok)

	otherRelease, ok, err := l.TryLock(ctx, "ent-2")
	require.NoError(t, err)
	assert.True(t, ok)
	otherRelease()

	release()
	release()

	again, ok, err := l.TryLock(ctx, "ent-1")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestKeyedLockerSingleWinnerUnderContention(t *testing.T) {
	l := NewKeyedLocker()
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := l.TryLock(context.Background(), "ent-1"); ok {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestKeyedLockerHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := NewKeyedLocker().TryLock(ctx, "ent-1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLockerIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	a := NewRedisLocker(client, time.Minute, zap.NewNop())
	b := NewRedisLocker(client, time.Minute, zap.NewNop())
	key := "test-" + time.Now().Format("150405.000000")

	release, ok, err := a.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	releaseB, ok, err := b.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseB()
}
