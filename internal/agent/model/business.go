package model

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

type Business struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	State     string    `json:"state"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	ID          string     `json:"id"`
	BusinessID  string     `json:"business_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Completed   bool       `json:"completed"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BusinessRepository is the slice of the CRUD layer the advisor tools rely on.
type BusinessRepository interface {
	// GetBusinessForUser returns the user's primary business, or ErrNotFound.
	GetBusinessForUser(ctx context.Context, userID string) (*Business, error)

	// ListTasks returns the tasks of a business ordered by creation.
	ListTasks(ctx context.Context, businessID string) ([]Task, error)

	// CreateTask inserts a task and returns it with its generated ID.
	CreateTask(ctx context.Context, task Task) (*Task, error)

	// CompleteTask marks a task complete. Returns ErrNotFound when the task
	// does not belong to the business.
	CompleteTask(ctx context.Context, businessID, taskID string) (*Task, error)
}

// Summarize condenses a task list into a ProgressSummary.
func Summarize(tasks []Task) *ProgressSummary {
	p := &ProgressSummary{Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			p.Completed++
			continue
		}
		p.Pending = append(p.Pending, t.Title)
	}
	return p
}
