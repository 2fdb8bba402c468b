// Package checkpoint persists ConversationState snapshots per thread so a
// conversation can resume across turns and process restarts.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/formwise-ai/advisor/internal/agent/model"
)

// ErrNotFound is returned by Get when a thread has no checkpoint.
var ErrNotFound = errors.New("checkpoint not found")

// Store is the checkpoint contract shared by every backend.
type Store interface {
	// Open establishes the backend connection. Put and Get open lazily, so
	// calling Open is only needed to surface connection errors early.
	Open(ctx context.Context) error

	// Put replaces the snapshot of a thread.
	Put(ctx context.Context, threadID string, state *model.ConversationState) error

	// Get returns the snapshot of a thread or ErrNotFound.
	Get(ctx context.Context, threadID string) (*model.ConversationState, error)

	// Delete removes the snapshot of a thread. Deleting a missing thread is not an error.
	Delete(ctx context.Context, threadID string) error

	// Close releases the connection. The store may be reopened afterwards.
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	namespace   string
	prefix      string
	ttl         time.Duration
	keepHistory int
}

func defaultOptions() options {
	return options{
		prefix:      "advisor:checkpoint:",
		keepHistory: 10,
	}
}

// WithNamespace scopes checkpoints so several graphs can share one backend.
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithTTL sets an expiry on Redis snapshots. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithHistory sets how many past versions the SQL store keeps per thread.
func WithHistory(n int) Option {
	return func(o *options) {
		o.keepHistory = n
	}
}

func encode(state *model.ConversationState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("nil state")
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return b, nil
}

func decode(b []byte) (*model.ConversationState, error) {
	var st model.ConversationState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &st, nil
}
