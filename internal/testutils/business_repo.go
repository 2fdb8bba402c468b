package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/formwise-ai/advisor/internal/agent/model"
)

// BusinessRepo is an in-memory model.BusinessRepository.
type BusinessRepo struct {
	mu         sync.Mutex
	businesses map[string]model.Business // by user ID
	tasks      map[string][]model.Task   // by business ID
	seq        int
	Err        error // returned by every method when set
}

var _ model.BusinessRepository = (*BusinessRepo)(nil)

func NewBusinessRepo() *BusinessRepo {
	return &BusinessRepo{
		businesses: make(map[string]model.Business),
		tasks:      make(map[string][]model.Task),
	}
}

// AddBusiness stores b as the primary business of b.UserID.
func (r *BusinessRepo) AddBusiness(b model.Business) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.businesses[b.UserID] = b
}

// AddTask stores t and returns it with an ID assigned when missing.
func (r *BusinessRepo) AddTask(t model.Task) model.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == "" {
		r.seq++
		t.ID = fmt.Sprintf("task-%d", r.seq)
	}
	r.tasks[t.BusinessID] = append(r.tasks[t.BusinessID], t)
	return t
}

func (r *BusinessRepo) GetBusinessForUser(_ context.Context, userID string) (*model.Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	b, ok := r.businesses[userID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &b, nil
}

func (r *BusinessRepo) ListTasks(_ context.Context, businessID string) ([]model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]model.Task, len(r.tasks[businessID]))
	copy(out, r.tasks[businessID])
	return out, nil
}

func (r *BusinessRepo) CreateTask(_ context.Context, task model.Task) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	r.seq++
	task.ID = fmt.Sprintf("task-%d", r.seq)
	r.tasks[task.BusinessID] = append(r.tasks[task.BusinessID], task)
	return &task, nil
}

func (r *BusinessRepo) CompleteTask(_ context.Context, businessID, taskID string) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for i, t := range r.tasks[businessID] {
		if t.ID != taskID {
			continue
		}
		now := time.Now().UTC()
		t.Completed = true
		t.CompletedAt = &now
		r.tasks[businessID][i] = t
		return &t, nil
	}
	return nil, model.ErrNotFound
}

// PanickingRepo is a BusinessRepo whose reads panic with Value, like a driver
// bug surfacing through the repository.
type PanickingRepo struct {
	*BusinessRepo
	Value any
}

func (r *PanickingRepo) GetBusinessForUser(context.Context, string) (*model.Business, error) {
	panic(r.Value)
}

func (r *PanickingRepo) ListTasks(context.Context, string) ([]model.Task, error) {
	panic(r.Value)
}
