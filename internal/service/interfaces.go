package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"news_narrator/internal/domain"
	"news_narrator/internal/progress"
	"news_narrator/internal/synthesis"
	"news_narrator/internal/translation"
)

type TaskStore interface {
	Create(ctx context.Context, task *domain.Task) error
	Get(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, offset, limit int) ([]domain.Task, int, error)
	// SetStatus moves the task to status if it is currently in one of from.
	SetStatus(ctx context.Context, id string, from []domain.TaskStatus, to domain.TaskStatus) error
	SetArticleCount(ctx context.Context, id string, count int) error
	MarkFailed(ctx context.Context, id, message string) error
	// Refresh recomputes a non-terminal task's status from its articles.
	Refresh(ctx context.Context, id string) error
	ListStale(ctx context.Context, statuses []domain.TaskStatus, before time.Time) ([]domain.Task, error)
}

type ArticleStore interface {
	Create(ctx context.Context, article *domain.Article) error
	Get(ctx context.Context, id string) (*domain.Article, error)
	ListByTask(ctx context.Context, taskID string) ([]domain.Article, error)
	// Update writes every mutable field if the stored status still equals
	// expected, and returns domain.ErrConflict otherwise.
	Update(ctx context.Context, article *domain.Article, expected domain.ArticleStatus) error
	// UpdateProgress raises progress while the article stays in status.
	UpdateProgress(ctx context.Context, id string, status domain.ArticleStatus, progress int) error
	MarkFailed(ctx context.Context, id string) error
	// Reclaim refreshes updated_at if the article is still in its current
	// status and was last updated before staleBefore, and returns
	// domain.ErrConflict otherwise. Progress is left untouched.
	Reclaim(ctx context.Context, article *domain.Article, staleBefore time.Time) error
	ListStale(ctx context.Context, statuses []domain.ArticleStatus, before time.Time) ([]domain.Article, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Dispatcher interface {
	Enqueue(ctx context.Context, job domain.Job) error
}

type Crawler interface {
	Crawl(ctx context.Context, url string, maxArticles int) ([]domain.Crawled, error)
}

type Translator interface {
	Run(ctx context.Context, title, content string, sink progress.Sink) (translation.Result, error)
}

type Narrator interface {
	Run(ctx context.Context, req synthesis.Request, sink progress.Sink) (string, error)
}
