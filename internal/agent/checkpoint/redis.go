package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/formwise-ai/advisor/internal/agent/model"
	errx "github.com/formwise-ai/advisor/internal/core/error"
	pkgredis "github.com/formwise-ai/advisor/pkg/redis"
)

// indexForever is the ZSET score used for snapshots without TTL (2100-01-01).
const indexForever = 4102444800

// RedisStore keeps snapshots as JSON strings plus a ZSET index of threads.
type RedisStore struct {
	cfg  *pkgredis.Config
	opts options

	mu         sync.Mutex
	client     *backend.Client
	ownsClient bool
}

// NewRedisStore returns a store that dials cfg on Open or first use and owns
// the resulting client.
func NewRedisStore(cfg pkgredis.Config, opts ...Option) *RedisStore {
	s := &RedisStore{cfg: &cfg, opts: defaultOptions(), ownsClient: true}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// NewRedisStoreFromClient wraps an existing client. Close leaves the client open.
func NewRedisStoreFromClient(client *backend.Client, opts ...Option) *RedisStore {
	s := &RedisStore{client: client, opts: defaultOptions()}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

func (s *RedisStore) key(threadID string) string {
	return s.opts.prefix + s.opts.namespace + ":" + threadID
}

func (s *RedisStore) indexKey() string {
	return s.opts.prefix + s.opts.namespace + ":index"
}

// Open dials Redis when needed and pings it.
func (s *RedisStore) Open(ctx context.Context) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := c.Ping(ctx).Err(); err != nil {
		return errx.WrapCheckpoint(err)
	}
	return nil
}

func (s *RedisStore) conn(ctx context.Context) (*backend.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	if s.cfg == nil {
		return nil, errx.WrapCheckpoint(errors.New("redis store has no client"))
	}
	c, err := s.cfg.New(ctx)
	if err != nil {
		return nil, errx.WrapCheckpoint(err)
	}
	s.client = c
	return c, nil
}

// Put writes the snapshot and refreshes the thread's index score.
func (s *RedisStore) Put(ctx context.Context, threadID string, state *model.ConversationState) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	data, err := encode(state)
	if err != nil {
		return err
	}

	score := float64(time.Now().Add(s.opts.ttl).Unix())
	if s.opts.ttl == 0 {
		score = indexForever
	}

	pipe := c.Pipeline()
	pipe.Set(ctx, s.key(threadID), data, s.opts.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: threadID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errx.WrapRedis(fmt.Errorf("save checkpoint: %w", err))
	}
	return nil
}

// Get loads the snapshot of a thread.
func (s *RedisStore) Get(ctx context.Context, threadID string) (*model.ConversationState, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	val, err := c.Get(ctx, s.key(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, errx.WrapRedis(fmt.Errorf("load checkpoint: %w", err))
	}
	return decode(val)
}

// Delete removes the snapshot and its index entry.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	pipe := c.Pipeline()
	pipe.Del(ctx, s.key(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errx.WrapRedis(fmt.Errorf("delete checkpoint: %w", err))
	}
	return nil
}

// Threads lists threads with a live snapshot, pruning expired index entries first.
func (s *RedisStore) Threads(ctx context.Context) ([]string, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	now := fmt.Sprintf("%d", time.Now().Unix())
	if err := c.ZRemRangeByScore(ctx, s.indexKey(), "-inf", now).Err(); err != nil {
		return nil, errx.WrapRedis(fmt.Errorf("prune checkpoint index: %w", err))
	}
	ids, err := c.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errx.WrapRedis(fmt.Errorf("list checkpoints: %w", err))
	}
	return ids, nil
}

// Close closes the client if the store created it.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.ownsClient {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

var _ Store = (*RedisStore)(nil)
