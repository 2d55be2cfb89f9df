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

const articleColumns = `id, task_id, source_title, source_content, source_url, author, published_at,
	translated_title, translated_content, audio_ref, audio_ref_original, status, progress,
	translation_started_at, translation_completed_at, created_at, updated_at`

type articleRow struct {
	ID                     string         `db:"id"`
	TaskID                 string         `db:"task_id"`
	SourceTitle            string         `db:"source_title"`
	SourceContent          string         `db:"source_content"`
	SourceURL              sql.NullString `db:"source_url"`
	Author                 sql.NullString `db:"author"`
	PublishedAt            nullTimestamp  `db:"published_at"`
	TranslatedTitle        sql.NullString `db:"translated_title"`
	TranslatedContent      sql.NullString `db:"translated_content"`
	AudioRef               sql.NullString `db:"audio_ref"`
	AudioRefOriginal       sql.NullString `db:"audio_ref_original"`
	Status                 string         `db:"status"`
	Progress               int            `db:"progress"`
	TranslationStartedAt   nullTimestamp  `db:"translation_started_at"`
	TranslationCompletedAt nullTimestamp  `db:"translation_completed_at"`
	CreatedAt              timestamp      `db:"created_at"`
	UpdatedAt              timestamp      `db:"updated_at"`
}

func (r articleRow) toDomain() domain.Article {
	return domain.Article{
		ID:                     r.ID,
		TaskID:                 r.TaskID,
		SourceTitle:            r.SourceTitle,
		SourceContent:          r.SourceContent,
		SourceURL:              nullString(r.SourceURL),
		Author:                 nullString(r.Author),
		PublishedAt:            r.PublishedAt.Time,
		TranslatedTitle:        nullString(r.TranslatedTitle),
		TranslatedContent:      nullString(r.TranslatedContent),
		AudioRef:               nullString(r.AudioRef),
		AudioRefOriginal:       nullString(r.AudioRefOriginal),
		Status:                 domain.ArticleStatus(r.Status),
		Progress:               r.Progress,
		TranslationStartedAt:   r.TranslationStartedAt.Time,
		TranslationCompletedAt: r.TranslationCompletedAt.Time,
		CreatedAt:              r.CreatedAt.Time,
		UpdatedAt:              r.UpdatedAt.Time,
	}
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

type ArticleStore struct {
	db      *sqlx.DB
	dialect dialect
	now     func() time.Time
}

func NewArticleStore(db *sqlx.DB) *ArticleStore {
	return &ArticleStore{
		db:      db,
		dialect: dialectOf(db),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *ArticleStore) Create(ctx context.Context, a *domain.Article) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		INSERT INTO articles (` + articleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := exec.ExecContext(ctx, query,
		a.ID,
		a.TaskID,
		a.SourceTitle,
		a.SourceContent,
		text(a.SourceURL),
		text(a.Author),
		s.dialect.nullStamp(a.PublishedAt),
		text(a.TranslatedTitle),
		text(a.TranslatedContent),
		text(a.AudioRef),
		text(a.AudioRefOriginal),
		string(a.Status),
		a.Progress,
		s.dialect.nullStamp(a.TranslationStartedAt),
		s.dialect.nullStamp(a.TranslationCompletedAt),
		s.dialect.stamp(a.CreatedAt),
		s.dialect.stamp(a.UpdatedAt),
	)
	return err
}

func (s *ArticleStore) Get(ctx context.Context, id string) (*domain.Article, error) {
	exec := GetExecutor(ctx, s.db)

	var row articleRow
	err := sqlx.GetContext(ctx, exec, &row, exec.Rebind(`SELECT `+articleColumns+` FROM articles WHERE id = ?`), id)
	if isNoRows(err) {
		return nil, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	article := row.toDomain()
	return &article, nil
}

func (s *ArticleStore) ListByTask(ctx context.Context, taskID string) ([]domain.Article, error) {
	exec := GetExecutor(ctx, s.db)

	query, args, err := s.dialect.builder.
		Select(articleColumns).
		From("articles").
		Where(sq.Eq{"task_id": taskID}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.selectArticles(ctx, exec, query, args...)
}

// Update stores the pipeline-owned fields of a as long as the stored status
// still equals expected. On success a.UpdatedAt reflects the write.
func (s *ArticleStore) Update(ctx context.Context, a *domain.Article, expected domain.ArticleStatus) error {
	exec := GetExecutor(ctx, s.db)
	now := s.now()

	query, args, err := s.dialect.builder.
		Update("articles").
		SetMap(map[string]any{
			"translated_title":         text(a.TranslatedTitle),
			"translated_content":       text(a.TranslatedContent),
			"audio_ref":                text(a.AudioRef),
			"audio_ref_original":       text(a.AudioRefOriginal),
			"status":                   string(a.Status),
			"progress":                 a.Progress,
			"translation_started_at":   s.dialect.nullStamp(a.TranslationStartedAt),
			"translation_completed_at": s.dialect.nullStamp(a.TranslationCompletedAt),
			"updated_at":               s.dialect.stamp(now),
		}).
		Where(sq.Eq{"id": a.ID, "status": string(expected)}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update article %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missingOrConflict(ctx, exec, "articles", a.ID)
	}
	a.UpdatedAt = now
	return nil
}

// UpdateProgress only ever raises progress, and only while the article is
// still in status. Lower or late values are dropped silently.
func (s *ArticleStore) UpdateProgress(ctx context.Context, id string, status domain.ArticleStatus, progress int) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		UPDATE articles SET progress = ?, updated_at = ?
		WHERE id = ? AND status = ? AND progress < ?`)

	_, err := exec.ExecContext(ctx, query, progress, s.dialect.stamp(s.now()), id, string(status), progress)
	return err
}

// Reclaim takes over an article whose owner stopped updating it. It only
// touches updated_at, so stored progress survives the handover.
func (s *ArticleStore) Reclaim(ctx context.Context, a *domain.Article, staleBefore time.Time) error {
	exec := GetExecutor(ctx, s.db)
	now := s.now()
	query := exec.Rebind(`
		UPDATE articles SET updated_at = ?
		WHERE id = ? AND status = ? AND updated_at < ?`)

	res, err := exec.ExecContext(ctx, query,
		s.dialect.stamp(now),
		a.ID,
		string(a.Status),
		s.dialect.stamp(staleBefore),
	)
	if err != nil {
		return fmt.Errorf("reclaim article %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missingOrConflict(ctx, exec, "articles", a.ID)
	}
	a.UpdatedAt = now
	return nil
}

// MarkFailed fails an article that has not reached a terminal state.
func (s *ArticleStore) MarkFailed(ctx context.Context, id string) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		UPDATE articles SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`)

	_, err := exec.ExecContext(ctx, query,
		string(domain.ArticleFailed),
		s.dialect.stamp(s.now()),
		id,
		string(domain.ArticleCompleted),
		string(domain.ArticleFailed),
	)
	return err
}

func (s *ArticleStore) ListStale(ctx context.Context, statuses []domain.ArticleStatus, before time.Time) ([]domain.Article, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	exec := GetExecutor(ctx, s.db)

	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	query, args, err := s.dialect.builder.
		Select(articleColumns).
		From("articles").
		Where(sq.Eq{"status": names}).
		Where(sq.Lt{"updated_at": s.dialect.stamp(before)}).
		OrderBy("updated_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.selectArticles(ctx, exec, query, args...)
}

func (s *ArticleStore) selectArticles(ctx context.Context, exec sqlx.ExtContext, query string, args ...any) ([]domain.Article, error) {
	var rows []articleRow
	if err := sqlx.SelectContext(ctx, exec, &rows, query, args...); err != nil {
		return nil, err
	}
	articles := make([]domain.Article, 0, len(rows))
	for _, r := range rows {
		articles = append(articles, r.toDomain())
	}
	return articles, nil
}
