// Package repo holds the persistence collaborators of the advisor: the
// business CRUD store the tools read and write, and the transcript sink.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formwise-ai/advisor/internal/agent/model"
	errx "github.com/formwise-ai/advisor/internal/core/error"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

// SQLiteBusinessRepository stores businesses and their task checklist.
type SQLiteBusinessRepository struct {
	db *sql.DB
}

// NewSQLiteBusinessRepository ensures the schema exists on db.
func NewSQLiteBusinessRepository(ctx context.Context, db *sql.DB) (*SQLiteBusinessRepository, error) {
	r := &SQLiteBusinessRepository{db: db}
	if err := r.initSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLiteBusinessRepository) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_businesses_user ON businesses(user_id, created_at);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		due_date INTEGER,
		completed_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_business ON tasks(business_id, created_at);
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return errx.WrapSQLite(fmt.Errorf("create business schema: %w", err))
	}
	return nil
}

// UpsertBusiness inserts b, or updates it when b.ID already exists. A missing
// ID is generated.
func (r *SQLiteBusinessRepository) UpsertBusiness(ctx context.Context, b model.Business) (*model.Business, error) {
	if strings.TrimSpace(b.UserID) == "" {
		return nil, fmt.Errorf("business user_id is required")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO businesses (id, user_id, name, type, state, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			state = excluded.state,
			status = excluded.status`,
		b.ID, b.UserID, b.Name, b.Type, b.State, b.Status, b.CreatedAt.UnixNano(),
	)
	if err != nil {
		logx.Error().Err(err).Str("business_id", b.ID).Msg("failed to upsert business")
		return nil, errx.WrapSQLite(err)
	}
	return &b, nil
}

// GetBusinessForUser returns the user's oldest business.
func (r *SQLiteBusinessRepository) GetBusinessForUser(ctx context.Context, userID string) (*model.Business, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, type, state, status, created_at
		FROM businesses
		WHERE user_id = ?
		ORDER BY created_at, rowid
		LIMIT 1`, userID)

	var (
		b       model.Business
		created int64
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.Name, &b.Type, &b.State, &b.Status, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, errx.WrapSQLite(err)
	}
	b.CreatedAt = time.Unix(0, created).UTC()
	return &b, nil
}

func (r *SQLiteBusinessRepository) ListTasks(ctx context.Context, businessID string) ([]model.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, business_id, title, description, category, completed, due_date, completed_at
		FROM tasks
		WHERE business_id = ?
		ORDER BY created_at, rowid`, businessID)
	if err != nil {
		return nil, errx.WrapSQLite(err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errx.WrapSQLite(err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapSQLite(err)
	}
	return tasks, nil
}

func (r *SQLiteBusinessRepository) CreateTask(ctx context.Context, task model.Task) (*model.Task, error) {
	if strings.TrimSpace(task.Title) == "" {
		return nil, fmt.Errorf("task title is required")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, business_id, title, description, category, completed, due_date, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.BusinessID, task.Title, task.Description, task.Category,
		boolToInt(task.Completed), nullableTime(task.DueDate), nullableTime(task.CompletedAt),
		time.Now().UTC().UnixNano(),
	)
	if err != nil {
		logx.Error().Err(err).Str("business_id", task.BusinessID).Msg("failed to create task")
		return nil, errx.WrapSQLite(err)
	}
	return &task, nil
}

// CompleteTask marks the task done. Completing an already completed task
// keeps its original completion time.
func (r *SQLiteBusinessRepository) CompleteTask(ctx context.Context, businessID, taskID string) (*model.Task, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks
		SET completed = 1, completed_at = COALESCE(completed_at, ?)
		WHERE id = ? AND business_id = ?`,
		time.Now().UTC().UnixNano(), taskID, businessID,
	)
	if err != nil {
		return nil, errx.WrapSQLite(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errx.WrapSQLite(err)
	}
	if n == 0 {
		return nil, model.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, business_id, title, description, category, completed, due_date, completed_at
		FROM tasks WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err != nil {
		return nil, errx.WrapSQLite(err)
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*model.Task, error) {
	var (
		t           model.Task
		completed   int
		due, doneAt sql.NullInt64
	)
	if err := s.Scan(&t.ID, &t.BusinessID, &t.Title, &t.Description, &t.Category, &completed, &due, &doneAt); err != nil {
		return nil, err
	}
	t.Completed = completed != 0
	t.DueDate = fromNullable(due)
	t.CompletedAt = fromNullable(doneAt)
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func fromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

var _ model.BusinessRepository = (*SQLiteBusinessRepository)(nil)
