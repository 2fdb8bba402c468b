package conversations_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwise-ai/advisor/internal/agent/checkpoint"
	"github.com/formwise-ai/advisor/internal/agent/graph/conversations"
)

func TestThreadLocks_SerializesSameThread(t *testing.T) {
	locks := conversations.NewThreadLocks()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locks.WithLock(ctx, "thread-1", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Zero(t, locks.Active(), "entries are released once idle")
}

func TestThreadLocks_DifferentThreadsRunConcurrently(t *testing.T) {
	locks := conversations.NewThreadLocks()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- locks.WithLock(ctx, "a", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := locks.WithLock(ctx, "b", func(context.Context) error { return nil })
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestThreadLocks_WaitHonoursContext(t *testing.T) {
	locks := conversations.NewThreadLocks()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locks.WithLock(context.Background(), "t", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	called := false
	err := locks.WithLock(ctx, "t", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
}

func TestThreadLocks_DistributedLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer client.Close()

	locks := conversations.NewThreadLocks(
		conversations.WithDistributedLocker(checkpoint.NewRedisLocker(client, "advisor:"), time.Minute),
	)

	err := locks.WithLock(context.Background(), "thread-9", func(context.Context) error {
		assert.True(t, mr.Exists("advisor:lock:thread-9"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("advisor:lock:thread-9"))
}
