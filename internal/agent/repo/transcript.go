package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/formwise-ai/advisor/internal/agent/model"
	errx "github.com/formwise-ai/advisor/internal/core/error"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// RedisTranscriptRepository keeps one Redis list per thread. Every append
// refreshes the key's TTL.
type RedisTranscriptRepository struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisTranscriptRepository(rdb redis.Cmdable, ttl time.Duration) *RedisTranscriptRepository {
	return &RedisTranscriptRepository{rdb: rdb, ttl: ttl, prefix: "advisor:transcript:"}
}

func (r *RedisTranscriptRepository) transcriptKey(threadID string) string {
	return fmt.Sprintf("%s%s:turns", r.prefix, threadID)
}

func (r *RedisTranscriptRepository) Append(ctx context.Context, threadID string, entry model.TranscriptEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Msg("failed to marshal transcript entry")
		return fmt.Errorf("marshal transcript entry: %w", err)
	}
	key := r.transcriptKey(threadID)

	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to append transcript entry")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisTranscriptRepository) Load(ctx context.Context, threadID string) ([]model.TranscriptEntry, error) {
	key := r.transcriptKey(threadID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.TranscriptEntry{}, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load transcript from redis")
		return nil, errx.WrapRedis(err)
	}

	entries := make([]model.TranscriptEntry, 0, len(rows))
	for i, s := range rows {
		var e model.TranscriptEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			logx.Error().Err(err).Str("thread_id", threadID).Int("index", i).Msg("failed to unmarshal transcript entry")
			return nil, fmt.Errorf("unmarshal transcript entry at index %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *RedisTranscriptRepository) Clear(ctx context.Context, threadID string) error {
	key := r.transcriptKey(threadID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete transcript from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisTranscriptRepository) Count(ctx context.Context, threadID string) (int, error) {
	key := r.transcriptKey(threadID)
	n, err := r.rdb.LLen(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to count transcript entries")
		return 0, errx.WrapRedis(err)
	}
	return int(n), nil
}

var _ model.TranscriptRepository = (*RedisTranscriptRepository)(nil)
