package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"news_narrator/internal/domain"
)

const taskColumns = "id, origin, status, article_count, narrate, error_message, created_at, updated_at"

type taskRow struct {
	ID           string         `db:"id"`
	Origin       string         `db:"origin"`
	Status       string         `db:"status"`
	ArticleCount int            `db:"article_count"`
	Narrate      bool           `db:"narrate"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    timestamp      `db:"created_at"`
	UpdatedAt    timestamp      `db:"updated_at"`
}

func (r taskRow) toDomain() domain.Task {
	t := domain.Task{
		ID:           r.ID,
		Origin:       r.Origin,
		Status:       domain.TaskStatus(r.Status),
		ArticleCount: r.ArticleCount,
		Narrate:      r.Narrate,
		CreatedAt:    r.CreatedAt.Time,
		UpdatedAt:    r.UpdatedAt.Time,
	}
	if r.ErrorMessage.Valid {
		msg := r.ErrorMessage.String
		t.ErrorMessage = &msg
	}
	return t
}

type TaskStore struct {
	db      *sqlx.DB
	dialect dialect
	now     func() time.Time
}

func NewTaskStore(db *sqlx.DB) *TaskStore {
	return &TaskStore{
		db:      db,
		dialect: dialectOf(db),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := exec.ExecContext(ctx, query,
		task.ID,
		task.Origin,
		string(task.Status),
		task.ArticleCount,
		task.Narrate,
		text(task.ErrorMessage),
		s.dialect.stamp(task.CreatedAt),
		s.dialect.stamp(task.UpdatedAt),
	)
	return err
}

func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	exec := GetExecutor(ctx, s.db)

	var row taskRow
	err := sqlx.GetContext(ctx, exec, &row, exec.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	if isNoRows(err) {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	task := row.toDomain()
	return &task, nil
}

// List returns tasks newest first together with the total number of tasks.
func (s *TaskStore) List(ctx context.Context, offset, limit int) ([]domain.Task, int, error) {
	exec := GetExecutor(ctx, s.db)

	var total int
	if err := sqlx.GetContext(ctx, exec, &total, `SELECT COUNT(*) FROM tasks`); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	query, args, err := s.dialect.builder.
		Select(taskColumns).
		From("tasks").
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, err
	}

	tasks, err := s.selectTasks(ctx, exec, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (s *TaskStore) SetStatus(ctx context.Context, id string, from []domain.TaskStatus, to domain.TaskStatus) error {
	exec := GetExecutor(ctx, s.db)

	query, args, err := s.dialect.builder.
		Update("tasks").
		Set("status", string(to)).
		Set("updated_at", s.dialect.stamp(s.now())).
		Where(sq.Eq{"id": id, "status": taskStatuses(from)}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, exec, res, id)
}

func (s *TaskStore) SetArticleCount(ctx context.Context, id string, count int) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`UPDATE tasks SET article_count = ?, updated_at = ? WHERE id = ?`)

	res, err := exec.ExecContext(ctx, query, count, s.dialect.stamp(s.now()), id)
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, exec, res, id)
}

// MarkFailed fails the task unless it has already failed, so the first
// reason recorded is the one kept.
func (s *TaskStore) MarkFailed(ctx context.Context, id, message string) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		UPDATE tasks SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status <> ?`)

	_, err := exec.ExecContext(ctx, query,
		string(domain.TaskFailed),
		domain.TruncateMessage(message),
		s.dialect.stamp(s.now()),
		id,
		string(domain.TaskFailed),
	)
	return err
}

// Refresh derives a running task's status from its articles in one
// statement: terminal once every article is, generating while any article
// is narrated, translating otherwise.
func (s *TaskStore) Refresh(ctx context.Context, id string) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		UPDATE tasks SET
			status = CASE
				WHEN NOT EXISTS (
					SELECT 1 FROM articles a
					WHERE a.task_id = tasks.id AND a.status NOT IN ('completed', 'failed')
				) THEN CASE
					WHEN EXISTS (SELECT 1 FROM articles a WHERE a.task_id = tasks.id AND a.status = 'failed')
					THEN 'failed' ELSE 'completed'
				END
				WHEN EXISTS (
					SELECT 1 FROM articles a WHERE a.task_id = tasks.id AND a.status = 'generating'
				) THEN 'generating'
				ELSE 'translating'
			END,
			updated_at = ?
		WHERE id = ?
			AND status NOT IN ('completed', 'failed')
			AND EXISTS (SELECT 1 FROM articles a WHERE a.task_id = tasks.id)`)

	_, err := exec.ExecContext(ctx, query, s.dialect.stamp(s.now()), id)
	return err
}

// ListStale returns tasks in one of statuses whose last update is before
// the cutoff, oldest first.
func (s *TaskStore) ListStale(ctx context.Context, statuses []domain.TaskStatus, before time.Time) ([]domain.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	exec := GetExecutor(ctx, s.db)

	query, args, err := s.dialect.builder.
		Select(taskColumns).
		From("tasks").
		Where(sq.Eq{"status": taskStatuses(statuses)}).
		Where(sq.Lt{"updated_at": s.dialect.stamp(before)}).
		OrderBy("updated_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.selectTasks(ctx, exec, query, args...)
}

func (s *TaskStore) selectTasks(ctx context.Context, exec sqlx.ExtContext, query string, args ...any) ([]domain.Task, error) {
	var rows []taskRow
	if err := sqlx.SelectContext(ctx, exec, &rows, query, args...); err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.toDomain())
	}
	return tasks, nil
}

// checkAffected tells a missing task apart from a failed precondition.
func (s *TaskStore) checkAffected(ctx context.Context, exec sqlx.ExtContext, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return missingOrConflict(ctx, exec, "tasks", id)
}

func taskStatuses(statuses []domain.TaskStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func missingOrConflict(ctx context.Context, exec sqlx.ExtContext, table, id string) error {
	var exists bool
	query := exec.Rebind(`SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = ?)`)
	if err := sqlx.GetContext(ctx, exec, &exists, query, id); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", table[:len(table)-1], id, domain.ErrNotFound)
	}
	return domain.ErrConflict
}
