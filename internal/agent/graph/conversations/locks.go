package conversations

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// Locker is a cross-process lock, e.g. checkpoint.RedisLocker.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// lockEntry holds the slot and the number of goroutines waiting on or holding it.
type lockEntry struct {
	slot chan struct{}
	refs int
}

// ThreadLocks serializes turns that share a thread ID. Entries are reference
// counted and dropped once nobody waits on them.
type ThreadLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	locker Locker
	ttl    time.Duration
}

// LockOption configures ThreadLocks.
type LockOption func(*ThreadLocks)

// WithDistributedLocker additionally holds a cross-process lock for the
// duration of fn. ttl bounds how long a crashed holder blocks the thread.
func WithDistributedLocker(locker Locker, ttl time.Duration) LockOption {
	return func(t *ThreadLocks) {
		t.locker = locker
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

func NewThreadLocks(opts ...LockOption) *ThreadLocks {
	t := &ThreadLocks{
		locks: make(map[string]*lockEntry),
		ttl:   2 * time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *ThreadLocks) acquire(threadID string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.locks[threadID]
	if !ok {
		entry = &lockEntry{slot: make(chan struct{}, 1)}
		t.locks[threadID] = entry
	}
	entry.refs++
	return entry
}

func (t *ThreadLocks) release(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.locks[threadID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(t.locks, threadID)
	}
}

// Active returns the number of threads with a holder or waiter.
func (t *ThreadLocks) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

// WithLock runs fn while holding the thread's lock. Waiting honours ctx.
func (t *ThreadLocks) WithLock(ctx context.Context, threadID string, fn func(context.Context) error) error {
	entry := t.acquire(threadID)
	defer t.release(threadID)

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-entry.slot }()

	if t.locker != nil {
		unlock, err := t.locker.Lock(ctx, threadID, t.ttl)
		if err != nil {
			return fmt.Errorf("acquire thread lock: %w", err)
		}
		defer func() {
			// Release even when ctx is already cancelled.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logx.Warn().Err(err).Str("thread_id", threadID).Msg("failed to release distributed lock (will expire via TTL)")
			}
		}()
	}

	return fn(ctx)
}
