package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"news_narrator/internal/domain"
)

// SweepStale resolves records that saw no update for olderThan, which only
// happens when a worker died mid-job or a dispatch was lost. Pending work is
// dispatched again, interrupted narration completes without audio and
// interrupted crawls or translations fail.
func (p *Pipeline) SweepStale(ctx context.Context, olderThan time.Duration) (*domain.SweepStats, error) {
	cutoff := p.now().Add(-olderThan)
	stats := &domain.SweepStats{}

	tasks, err := p.tasks.ListStale(ctx, []domain.TaskStatus{domain.TaskPending, domain.TaskCrawling}, cutoff)
	if err != nil {
		return stats, fmt.Errorf("list stale tasks: %w", err)
	}
	for _, t := range tasks {
		if t.IsText() {
			continue
		}
		if t.Status == domain.TaskPending {
			pending := []domain.TaskStatus{domain.TaskPending}
			if err := p.tasks.SetStatus(ctx, t.ID, pending, domain.TaskPending); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					continue
				}
				return stats, err
			}
			if err := p.enqueue(ctx, domain.Job{Name: domain.JobCrawl, TaskID: t.ID}); err != nil {
				return stats, err
			}
			stats.Redispatched++
			continue
		}
		p.failTask(ctx, t.ID, fmt.Errorf("stalled: no progress since %s", t.UpdatedAt.Format(time.RFC3339)))
		stats.Failed++
	}

	articles, err := p.articles.ListStale(ctx, []domain.ArticleStatus{
		domain.ArticlePending,
		domain.ArticleTranslating,
		domain.ArticleGenerating,
	}, cutoff)
	if err != nil {
		return stats, fmt.Errorf("list stale articles: %w", err)
	}

	for i := range articles {
		a := &articles[i]
		if err := p.sweepArticle(ctx, a, stats); err != nil {
			return stats, err
		}
	}

	if stats.Redispatched+stats.Completed+stats.Failed > 0 {
		p.logger.Info("swept stale work",
			"redispatched", stats.Redispatched,
			"completed", stats.Completed,
			"failed", stats.Failed,
		)
	}
	return stats, nil
}

func (p *Pipeline) sweepArticle(ctx context.Context, a *domain.Article, stats *domain.SweepStats) error {
	since := a.UpdatedAt.Format(time.RFC3339)

	switch a.Status {
	case domain.ArticlePending:
		// touch first so the next sweep does not dispatch it again
		if err := p.articles.Update(ctx, a, domain.ArticlePending); err != nil {
			return ignoreConflict(err)
		}
		if err := p.enqueue(ctx, domain.Job{Name: domain.JobTranslate, TaskID: a.TaskID, ArticleID: a.ID}); err != nil {
			return err
		}
		stats.Redispatched++

	case domain.ArticleGenerating:
		a.Status = domain.ArticleCompleted
		a.Progress = 100
		if err := p.articles.Update(ctx, a, domain.ArticleGenerating); err != nil {
			return ignoreConflict(err)
		}
		p.logger.Warn("narration stalled, completed without audio", "article_id", a.ID, "since", since)
		p.refreshTask(ctx, a.TaskID)
		stats.Completed++

	case domain.ArticleTranslating:
		a.Status = domain.ArticleFailed
		if err := p.articles.Update(ctx, a, domain.ArticleTranslating); err != nil {
			return ignoreConflict(err)
		}
		p.failTask(ctx, a.TaskID, fmt.Errorf("article %s stalled in translation since %s", a.ID, since))
		stats.Failed++
	}
	return nil
}

func ignoreConflict(err error) error {
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	return err
}
