package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/admitpath/admitpath/internal/model"
	"github.com/admitpath/admitpath/internal/persistence"
)

// taskRepo implements TaskStore for PostgreSQL.
type taskRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTaskRepo creates a PostgreSQL task repository.
func NewTaskRepo(db *sqlx.DB, timeout time.Duration) persistence.TaskStore {
	return &taskRepo{db: db, timeout: timeout}
}

const taskColumns = `task_id, user_id, college_id, application_id, title, type, status,
       estimated_hours, COALESCE(deadline, 'epoch'::timestamptz), priority, canonical_kind,
       is_reusable, reuse_template_id, content_ready, created_at, updated_at`

func (r *taskRepo) GetTask(ctx context.Context, taskID int64) (*model.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = $1`
	t, err := scanTask(r.db.QueryRowxContext(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %d: %w", taskID, model.ErrTaskNotFound)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

func (r *taskRepo) ListTasks(ctx context.Context, userID, collegeID int64) ([]model.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + taskColumns + `
		FROM tasks WHERE user_id = $1 AND college_id = $2 ORDER BY task_id`
	rows, err := r.db.QueryxContext(ctx, query, userID, collegeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *taskRepo) ListUserTasks(ctx context.Context, userID int64) ([]model.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1 ORDER BY task_id`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CreateTasks inserts tasks and dependency edges in one transaction.
// Edges may reference tasks positionally: an id of -(index+1) resolves to
// the id assigned to tasks[index].
func (r *taskRepo) CreateTasks(ctx context.Context, tasks []model.Task, deps []model.TaskDependency) ([]model.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	assigned := make([]int64, len(tasks))
	out := make([]model.Task, len(tasks))
	insertTask := `
		INSERT INTO tasks
		(user_id, college_id, application_id, title, type, status, estimated_hours,
		 deadline, priority, canonical_kind, is_reusable, reuse_template_id, content_ready)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING task_id, created_at, updated_at`
	for i := range tasks {
		t := tasks[i]
		err := tx.QueryRowxContext(ctx, insertTask,
			t.UserID, t.CollegeID, t.ApplicationID, t.Title, t.Type, t.Status,
			t.EstimatedHours, nullTime(t.Deadline), t.Priority, t.CanonicalKind,
			t.IsReusable, t.ReuseTemplateID, t.ContentReady).
			Scan(&t.TaskID, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert task %q: %w", t.Title, err)
		}
		assigned[i] = t.TaskID
		out[i] = t
	}

	resolve := func(id int64) int64 {
		if id < 0 {
			idx := int(-id) - 1
			if idx >= 0 && idx < len(assigned) {
				return assigned[idx]
			}
		}
		return id
	}
	insertDep := `
		INSERT INTO task_dependencies (task_id, depends_on_id, type, lead_days)
		VALUES ($1, $2, $3, $4)`
	for _, d := range deps {
		if _, err := tx.ExecContext(ctx, insertDep,
			resolve(d.TaskID), resolve(d.DependsOnID), d.Type, d.LeadDays); err != nil {
			return nil, fmt.Errorf("failed to insert dependency: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task creation: %w", err)
	}
	return out, nil
}

func (r *taskRepo) UpdateTask(ctx context.Context, t *model.Task) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE tasks SET
			title = $2, status = $3, estimated_hours = $4,
			deadline = $5, priority = $6,
			reuse_template_id = $7, content_ready = $8, updated_at = now()
		WHERE task_id = $1
		RETURNING updated_at`
	err := r.db.QueryRowxContext(ctx, query,
		t.TaskID, t.Title, t.Status, t.EstimatedHours, nullTime(t.Deadline),
		t.Priority, t.ReuseTemplateID, t.ContentReady).
		Scan(&t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %d: %w", t.TaskID, model.ErrTaskNotFound)
		}
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

func (r *taskRepo) ListDependencies(ctx context.Context, userID int64) ([]model.TaskDependency, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT d.dependency_id, d.task_id, d.depends_on_id, d.type, d.lead_days
		FROM task_dependencies d
		JOIN tasks t ON t.task_id = d.task_id
		WHERE t.user_id = $1
		ORDER BY d.dependency_id`
	var out []model.TaskDependency
	if err := r.db.SelectContext(ctx, &out, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	return out, nil
}

func (r *taskRepo) CreateDependency(ctx context.Context, dep *model.TaskDependency) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO task_dependencies (task_id, depends_on_id, type, lead_days)
		VALUES ($1, $2, $3, $4)
		RETURNING dependency_id`
	err := r.db.QueryRowxContext(ctx, query, dep.TaskID, dep.DependsOnID, dep.Type, dep.LeadDays).
		Scan(&dep.DependencyID)
	if err != nil {
		return fmt.Errorf("failed to insert dependency: %w", err)
	}
	return nil
}

func (r *taskRepo) AppendStatusHistory(ctx context.Context, change *model.TaskStatusChange) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO task_status_history (task_id, old_status, new_status, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING change_id, changed_at`
	err := r.db.QueryRowxContext(ctx, query,
		change.TaskID, change.OldStatus, change.NewStatus, change.Reason, change.ChangedAt).
		Scan(&change.ChangeID, &change.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}

func (r *taskRepo) ListReusableByKind(ctx context.Context, userID int64, kind string) ([]model.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1 AND is_reusable AND canonical_kind = $2
		ORDER BY task_id`
	rows, err := r.db.QueryxContext(ctx, query, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list reusable tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Helper methods

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanTaskFrom(row rowScanner) (*model.Task, error) {
	var t model.Task
	err := row.Scan(&t.TaskID, &t.UserID, &t.CollegeID, &t.ApplicationID,
		&t.Title, &t.Type, &t.Status, &t.EstimatedHours, &t.Deadline,
		&t.Priority, &t.CanonicalKind, &t.IsReusable, &t.ReuseTemplateID,
		&t.ContentReady, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.Deadline.Unix() == 0 {
		t.Deadline = time.Time{}
	}
	return &t, nil
}

func scanTask(row *sqlx.Row) (*model.Task, error) {
	return scanTaskFrom(row)
}

func scanTasks(rows *sqlx.Rows) ([]model.Task, error) {
	var out []model.Task
	for rows.Next() {
		t, err := scanTaskFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
