package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/formwise-ai/advisor/internal/agent/model"
)

const (
	ToolGetBusinessProfile = "get_business_profile"
	ToolListTasks          = "list_tasks"
	ToolCreateTask         = "create_task"
	ToolCompleteTask       = "complete_task"
)

var errNoUser = errors.New("no user in scope")

type GetBusinessProfileInput struct{}

type BusinessProfileOutput struct {
	Found    bool            `json:"found"`
	Business *model.Business `json:"business,omitempty"`
}

type ListTasksInput struct {
	IncludeCompleted bool `json:"include_completed"`
}

type ListTasksOutput struct {
	BusinessID string       `json:"business_id"`
	Tasks      []model.Task `json:"tasks"`
	Total      int          `json:"total"`
	Completed  int          `json:"completed"`
}

type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

type CompleteTaskInput struct {
	TaskID string `json:"task_id"`
}

// resolveBusiness returns the business the scope points at. The scope's
// BusinessID wins; otherwise the user's primary business is looked up.
func resolveBusiness(ctx context.Context, repo model.BusinessRepository) (string, error) {
	s := ScopeFrom(ctx)
	if s.BusinessID != "" {
		return s.BusinessID, nil
	}
	if s.UserID == "" {
		return "", errNoUser
	}
	b, err := repo.GetBusinessForUser(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return "", fmt.Errorf("user has no business on file")
		}
		return "", err
	}
	return b.ID, nil
}

func createGetBusinessProfileTool(repo model.BusinessRepository) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        ToolGetBusinessProfile,
			Desc:        "Get the user's business profile: name, entity type (LLC, C-Corp, sole proprietorship...), formation state and status. Use it before giving advice that depends on the business.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(ctx context.Context, _ *GetBusinessProfileInput) (*BusinessProfileOutput, error) {
			s := ScopeFrom(ctx)
			if s.UserID == "" {
				return nil, errNoUser
			}
			b, err := repo.GetBusinessForUser(ctx, s.UserID)
			if errors.Is(err, model.ErrNotFound) {
				return &BusinessProfileOutput{Found: false}, nil
			}
			if err != nil {
				return nil, err
			}
			return &BusinessProfileOutput{Found: true, Business: b}, nil
		},
	)
}

func createListTasksTool(repo model.BusinessRepository) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolListTasks,
			Desc: "List the formation and compliance tasks of the user's business with their completion status. Returns task ids needed by complete_task.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"include_completed": {
					Type: schema.Boolean,
					Desc: "Also return tasks that are already completed. Defaults to false.",
				},
			}),
		},
		func(ctx context.Context, in *ListTasksInput) (*ListTasksOutput, error) {
			businessID, err := resolveBusiness(ctx, repo)
			if err != nil {
				return nil, err
			}
			tasks, err := repo.ListTasks(ctx, businessID)
			if err != nil {
				return nil, err
			}

			progress := model.Summarize(tasks)
			out := &ListTasksOutput{
				BusinessID: businessID,
				Tasks:      make([]model.Task, 0, len(tasks)),
				Total:      progress.Total,
				Completed:  progress.Completed,
			}
			for _, t := range tasks {
				if t.Completed && !in.IncludeCompleted {
					continue
				}
				out.Tasks = append(out.Tasks, t)
			}
			return out, nil
		},
	)
}

func createCreateTaskTool(repo model.BusinessRepository) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCreateTask,
			Desc: "Add a task to the user's business checklist, e.g. 'File articles of organization' or 'Apply for an EIN'.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"title": {
					Type:     schema.String,
					Desc:     "Short imperative title of the task.",
					Required: true,
				},
				"description": {
					Type: schema.String,
					Desc: "Optional details or instructions.",
				},
				"category": {
					Type: schema.String,
					Desc: "Optional category such as legal, tax, banking, licensing.",
				},
				"due_date": {
					Type: schema.String,
					Desc: "Optional due date in YYYY-MM-DD format.",
				},
			}),
		},
		func(ctx context.Context, in *CreateTaskInput) (*model.Task, error) {
			if in.Title == "" {
				return nil, fmt.Errorf("title is required")
			}
			businessID, err := resolveBusiness(ctx, repo)
			if err != nil {
				return nil, err
			}

			task := model.Task{
				BusinessID:  businessID,
				Title:       in.Title,
				Description: in.Description,
				Category:    strings.ToLower(in.Category),
			}
			if in.DueDate != "" {
				due, err := time.Parse(time.DateOnly, in.DueDate)
				if err != nil {
					return nil, fmt.Errorf("due_date must be YYYY-MM-DD: %w", err)
				}
				task.DueDate = &due
			}
			return repo.CreateTask(ctx, task)
		},
	)
}

func createCompleteTaskTool(repo model.BusinessRepository) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCompleteTask,
			Desc: "Mark one of the user's tasks as completed. The task_id must come from list_tasks.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id": {
					Type:     schema.String,
					Desc:     "Exact id of the task from list_tasks results.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *CompleteTaskInput) (*model.Task, error) {
			if in.TaskID == "" {
				return nil, fmt.Errorf("task_id is required")
			}
			businessID, err := resolveBusiness(ctx, repo)
			if err != nil {
				return nil, err
			}
			task, err := repo.CompleteTask(ctx, businessID, in.TaskID)
			if errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("task not found: %s", in.TaskID)
			}
			return task, err
		},
	)
}
