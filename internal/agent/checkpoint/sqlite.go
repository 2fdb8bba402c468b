package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/formwise-ai/advisor/internal/agent/model"
	errx "github.com/formwise-ai/advisor/internal/core/error"
	logx "github.com/formwise-ai/advisor/pkg/logger"
	pkgsqlite "github.com/formwise-ai/advisor/pkg/sqlite"
)

// SQLStore is the durable checkpoint backend. Rows are keyed by
// (thread_id, namespace) and every write bumps a version inside a transaction.
type SQLStore struct {
	cfg  pkgsqlite.Config
	opts options

	mu sync.Mutex
	db *sql.DB
}

// NewSQLStore returns an unopened store. The connection is established on
// Open or on first use.
func NewSQLStore(cfg pkgsqlite.Config, opts ...Option) *SQLStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &SQLStore{cfg: cfg, opts: o}
}

// Open connects to the database and ensures the schema exists.
func (s *SQLStore) Open(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

func (s *SQLStore) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	db, err := s.cfg.New(ctx)
	if err != nil {
		return nil, errx.WrapCheckpoint(err)
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, errx.WrapCheckpoint(err)
	}

	logx.Debug().Str("path", s.cfg.Path).Str("namespace", s.opts.namespace).Msg("checkpoint database opened")
	s.db = db
	return db, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id TEXT NOT NULL,
		namespace TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (thread_id, namespace)
	);
	CREATE TABLE IF NOT EXISTS checkpoint_history (
		thread_id TEXT NOT NULL,
		namespace TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (thread_id, namespace, version)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at);
	`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint schema: %w", err)
	}
	return nil
}

// Put upserts the snapshot, records it in the history table and prunes old versions.
func (s *SQLStore) Put(ctx context.Context, threadID string, state *model.ConversationState) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	data, err := encode(state)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapSQLite(fmt.Errorf("begin checkpoint tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	var version int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO checkpoints (thread_id, namespace, version, state_json, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(thread_id, namespace) DO UPDATE SET
			version = checkpoints.version + 1,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at
		RETURNING version`,
		threadID, s.opts.namespace, string(data), now, now,
	).Scan(&version)
	if err != nil {
		return errx.WrapSQLite(fmt.Errorf("upsert checkpoint: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoint_history (thread_id, namespace, version, state_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		threadID, s.opts.namespace, version, string(data), now,
	); err != nil {
		return errx.WrapSQLite(fmt.Errorf("insert checkpoint history: %w", err))
	}

	if s.opts.keepHistory > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM checkpoint_history
			WHERE thread_id = ? AND namespace = ? AND version <= ?`,
			threadID, s.opts.namespace, version-int64(s.opts.keepHistory),
		); err != nil {
			return errx.WrapSQLite(fmt.Errorf("prune checkpoint history: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errx.WrapSQLite(fmt.Errorf("commit checkpoint: %w", err))
	}
	return nil
}

// Get returns the latest snapshot of a thread.
func (s *SQLStore) Get(ctx context.Context, threadID string) (*model.ConversationState, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var data string
	err = db.QueryRowContext(ctx,
		`SELECT state_json FROM checkpoints WHERE thread_id = ? AND namespace = ?`,
		threadID, s.opts.namespace,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errx.WrapSQLite(fmt.Errorf("select checkpoint: %w", err))
	}
	return decode([]byte(data))
}

// Version returns the current version of a thread's snapshot, 0 when absent.
func (s *SQLStore) Version(ctx context.Context, threadID string) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	var v int64
	err = db.QueryRowContext(ctx,
		`SELECT version FROM checkpoints WHERE thread_id = ? AND namespace = ?`,
		threadID, s.opts.namespace,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errx.WrapSQLite(fmt.Errorf("select checkpoint version: %w", err))
	}
	return v, nil
}

// Delete removes the snapshot and its history.
func (s *SQLStore) Delete(ctx context.Context, threadID string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapSQLite(fmt.Errorf("begin delete tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM checkpoints WHERE thread_id = ? AND namespace = ?`,
		`DELETE FROM checkpoint_history WHERE thread_id = ? AND namespace = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, threadID, s.opts.namespace); err != nil {
			return errx.WrapSQLite(fmt.Errorf("delete checkpoint: %w", err))
		}
	}
	return errx.WrapSQLite(tx.Commit())
}

// Close disposes the connection pool and clears the cached handle.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close checkpoint database: %w", err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
