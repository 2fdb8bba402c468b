package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	backend "github.com/redis/go-redis/v9"

	"github.com/formwise-ai/advisor/internal/agent/checkpoint"
	"github.com/formwise-ai/advisor/internal/agent/graph"
	"github.com/formwise-ai/advisor/internal/agent/graph/conversations"
	"github.com/formwise-ai/advisor/internal/agent/graph/nodes"
	"github.com/formwise-ai/advisor/internal/agent/graph/observers"
	"github.com/formwise-ai/advisor/internal/agent/model"
	"github.com/formwise-ai/advisor/internal/agent/repo"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// app holds the wired advisor and the resources to release on shutdown.
type app struct {
	runner   *graph.Runner
	business *repo.SQLiteBusinessRepository
	registry *prometheus.Registry
	closers  []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *AppConfig) (_ *app, err error) {
	a := &app{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observers.NewMetrics(a.registry)

	db, err := cfg.SQLite.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("open business database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	a.business, err = repo.NewSQLiteBusinessRepository(ctx, db)
	if err != nil {
		return nil, err
	}

	rdb := connectRedis(ctx, cfg)
	if rdb != nil {
		a.closers = append(a.closers, rdb.Close)
	}

	store, locks, err := openCheckpoints(ctx, cfg, rdb)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	var transcripts model.TranscriptRepository
	if rdb != nil {
		transcripts = repo.NewRedisTranscriptRepository(rdb, cfg.Conversation.TranscriptTTL)
	}

	resolver, err := nodes.NewGeminiResolver(nodes.ChatModelConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		TriageConfig: &cfg.Triage,
		RespConfig:   &cfg.Response,
	})
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		logx.Warn().Msg("GEMINI_API_KEY is not set; every request must carry its own API key")
	}

	a.runner, err = graph.BuildRunner(ctx, graph.Config{
		Resolver:     resolver,
		Business:     a.business,
		Conversation: cfg.Conversation,
		Store:        store,
		Locks:        locks,
		Transcripts:  transcripts,
		Metrics:      metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build advisor: %w", err)
	}
	return a, nil
}

// connectRedis returns nil when Redis is unreachable; transcripts and
// distributed locking are then disabled.
func connectRedis(ctx context.Context, cfg *AppConfig) *backend.Client {
	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		logx.Warn().Err(err).Msg("Redis unreachable; transcripts and distributed thread locks are disabled")
		return nil
	}
	logx.Debug().Msg("Connected to Redis successfully")
	return rdb
}

func openCheckpoints(ctx context.Context, cfg *AppConfig, rdb *backend.Client) (checkpoint.Store, *conversations.ThreadLocks, error) {
	opts := []checkpoint.Option{checkpoint.WithNamespace(cfg.Checkpoint.Namespace)}
	if cfg.Checkpoint.TTL > 0 {
		opts = append(opts, checkpoint.WithTTL(cfg.Checkpoint.TTL))
	}

	var (
		store    checkpoint.Store
		lockOpts []conversations.LockOption
	)
	switch strings.ToLower(cfg.Checkpoint.Backend) {
	case "sqlite", "":
		store = checkpoint.NewSQLStore(cfg.SQLite, opts...)
	case "redis":
		if rdb == nil {
			store = checkpoint.NewRedisStore(cfg.Redis, opts...)
		} else {
			store = checkpoint.NewRedisStoreFromClient(rdb, opts...)
			lockOpts = append(lockOpts, conversations.WithDistributedLocker(
				checkpoint.NewRedisLocker(rdb, "advisor:"), cfg.Checkpoint.LockTTL,
			))
		}
	case "memory":
		store = checkpoint.NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("unknown CHECKPOINT_BACKEND %q", cfg.Checkpoint.Backend)
	}

	if cfg.Checkpoint.Fallback {
		var degraded bool
		store, degraded = checkpoint.OpenWithFallback(ctx, store)
		if degraded {
			lockOpts = nil
		}
	} else if err := store.Open(ctx); err != nil {
		return nil, nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	logx.Info().Str("backend", cfg.Checkpoint.Backend).Str("namespace", cfg.Checkpoint.Namespace).Msg("checkpoint store ready")
	return store, conversations.NewThreadLocks(lockOpts...), nil
}
