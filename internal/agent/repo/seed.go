package repo

import (
	"context"
	"fmt"

	"github.com/formwise-ai/advisor/internal/agent/model"
)

// starterChecklist is the default formation checklist of a new business.
var starterChecklist = []model.Task{
	{Title: "Choose a business name", Category: "legal"},
	{Title: "File articles of organization", Category: "legal"},
	{Title: "Get EIN", Category: "tax"},
	{Title: "Open a business bank account", Category: "banking"},
	{Title: "Apply for local business licenses", Category: "licensing"},
}

// Seed creates a business for b.UserID with the starter checklist. It is
// used by the CLI to prepare a local database.
func Seed(ctx context.Context, r *SQLiteBusinessRepository, b model.Business) (*model.Business, []model.Task, error) {
	created, err := r.UpsertBusiness(ctx, b)
	if err != nil {
		return nil, nil, fmt.Errorf("seed business: %w", err)
	}

	tasks := make([]model.Task, 0, len(starterChecklist))
	for _, t := range starterChecklist {
		t.BusinessID = created.ID
		task, err := r.CreateTask(ctx, t)
		if err != nil {
			return nil, nil, fmt.Errorf("seed task %q: %w", t.Title, err)
		}
		tasks = append(tasks, *task)
	}
	return created, tasks, nil
}
