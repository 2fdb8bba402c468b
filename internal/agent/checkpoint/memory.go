package checkpoint

import (
	"context"
	"sync"

	"github.com/formwise-ai/advisor/internal/agent/model"
)

// MemoryStore keeps snapshots in process memory. It does not survive restarts
// and is not shared between server instances; use it for development only.
// Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Open(context.Context) error { return nil }

// Put stores an encoded copy so later mutation by the caller cannot leak in.
func (s *MemoryStore) Put(_ context.Context, threadID string, state *model.ConversationState) error {
	data, err := encode(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[threadID] = data
	return nil
}

// Get decodes a fresh copy of the snapshot.
func (s *MemoryStore) Get(_ context.Context, threadID string) (*model.ConversationState, error) {
	s.mu.RLock()
	data, ok := s.data[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, threadID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
