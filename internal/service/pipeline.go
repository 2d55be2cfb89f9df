package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"news_narrator/internal/config"
	"news_narrator/internal/domain"
	"news_narrator/internal/synthesis"
)

const (
	DefaultTitle     = "Untitled"
	DefaultLease     = 5 * time.Minute
	DefaultPageSize  = 20
	MaxPageSize      = 100
	fallbackLanguage = "en"
)

type SubmitRequest struct {
	Title   string
	Content string
	URL     string
	Narrate bool
}

// Pipeline owns the task and article lifecycle and sequences the stages.
type Pipeline struct {
	tasks      TaskStore
	articles   ArticleStore
	txManager  TransactionManager
	dispatcher Dispatcher
	crawler    Crawler
	translator Translator
	narrator   Narrator
	logger     *slog.Logger
	config     config.PipelineConfig

	now   func() time.Time
	newID func() string
}

// NewPipeline wires the controller. crawler and narrator may be nil when
// crawling or narration is not configured.
func NewPipeline(
	tasks TaskStore,
	articles ArticleStore,
	txManager TransactionManager,
	dispatcher Dispatcher,
	crawler Crawler,
	translator Translator,
	narrator Narrator,
	logger *slog.Logger,
	cfg config.PipelineConfig,
) *Pipeline {
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	return &Pipeline{
		tasks:      tasks,
		articles:   articles,
		txManager:  txManager,
		dispatcher: dispatcher,
		crawler:    crawler,
		translator: translator,
		narrator:   narrator,
		logger:     logger.With("component", "pipeline"),
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// Submit records new work and dispatches its first job.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*domain.Task, error) {
	content := strings.TrimSpace(req.Content)
	locator := strings.TrimSpace(req.URL)

	switch {
	case content == "" && locator == "":
		return nil, fmt.Errorf("%w: either content or url is required", domain.ErrInvalidInput)
	case content != "" && locator != "":
		return nil, fmt.Errorf("%w: content and url are mutually exclusive", domain.ErrInvalidInput)
	}
	if req.Narrate && p.narrator == nil {
		return nil, fmt.Errorf("%w: narration is not configured", domain.ErrInvalidInput)
	}

	now := p.now()
	task := &domain.Task{
		ID:        p.newID(),
		Status:    domain.TaskPending,
		Narrate:   req.Narrate,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var job domain.Job
	if locator != "" {
		if err := validateURL(locator); err != nil {
			return nil, err
		}
		if p.crawler == nil {
			return nil, fmt.Errorf("%w: crawling is not configured", domain.ErrInvalidInput)
		}
		task.Origin = locator
		if err := p.tasks.Create(ctx, task); err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		job = domain.Job{Name: domain.JobCrawl, TaskID: task.ID}
	} else {
		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = DefaultTitle
		}
		task.Origin = domain.OriginText
		task.ArticleCount = 1
		article := &domain.Article{
			ID:            p.newID(),
			TaskID:        task.ID,
			SourceTitle:   title,
			SourceContent: content,
			Status:        domain.ArticlePending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err := p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := p.tasks.Create(txCtx, task); err != nil {
				return fmt.Errorf("create task: %w", err)
			}
			if err := p.articles.Create(txCtx, article); err != nil {
				return fmt.Errorf("create article: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		job = domain.Job{Name: domain.JobTranslate, TaskID: task.ID, ArticleID: article.ID}
	}

	if err := p.enqueue(ctx, job); err != nil {
		p.failTask(ctx, task.ID, err)
		return nil, err
	}

	p.logger.Info("task submitted", "task_id", task.ID, "origin", task.Origin, "narrate", task.Narrate)
	return task, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute http(s)", domain.ErrInvalidInput)
	}
	return nil
}

func (p *Pipeline) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return p.tasks.Get(ctx, id)
}

// ListTasks returns a page of tasks, newest first, and the total count.
func (p *Pipeline) ListTasks(ctx context.Context, offset, limit int) ([]domain.Task, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)
	return p.tasks.List(ctx, offset, limit)
}

func (p *Pipeline) GetArticle(ctx context.Context, id string) (*domain.Article, error) {
	return p.articles.Get(ctx, id)
}

func (p *Pipeline) ListArticles(ctx context.Context, taskID string) ([]domain.Article, error) {
	if _, err := p.tasks.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return p.articles.ListByTask(ctx, taskID)
}

// Crawl extracts the articles of a locator task and dispatches their
// translation. It does nothing once the task has moved past crawling.
func (p *Pipeline) Crawl(ctx context.Context, taskID string) error {
	logger := p.logger.With("task_id", taskID)

	task, err := p.tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task.IsText() || (task.Status != domain.TaskPending && task.Status != domain.TaskCrawling) {
		logger.Debug("crawl skipped", "status", task.Status)
		return nil
	}

	err = p.tasks.SetStatus(ctx, taskID, []domain.TaskStatus{domain.TaskPending, domain.TaskCrawling}, domain.TaskCrawling)
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	if err != nil {
		p.failTask(ctx, taskID, fmt.Errorf("start crawl: %w", err))
		return nil
	}

	crawled, err := p.crawler.Crawl(ctx, task.Origin, p.config.MaxArticles)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		p.failTask(ctx, taskID, fmt.Errorf("crawl %s: %w", task.Origin, err))
		return nil
	}
	if len(crawled) == 0 {
		p.failTask(ctx, taskID, fmt.Errorf("crawl %s: no articles found", task.Origin))
		return nil
	}
	if len(crawled) > p.config.MaxArticles {
		crawled = crawled[:p.config.MaxArticles]
	}

	now := p.now()
	articles := make([]*domain.Article, 0, len(crawled))
	for _, c := range crawled {
		source := c.URL
		articles = append(articles, &domain.Article{
			ID:            p.newID(),
			TaskID:        taskID,
			SourceTitle:   c.Title,
			SourceContent: c.Content,
			SourceURL:     &source,
			Author:        c.Author,
			PublishedAt:   c.PublishedAt,
			Status:        domain.ArticlePending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	err = p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, a := range articles {
			if err := p.articles.Create(txCtx, a); err != nil {
				return fmt.Errorf("create article: %w", err)
			}
		}
		if err := p.tasks.SetArticleCount(txCtx, taskID, len(articles)); err != nil {
			return fmt.Errorf("set article count: %w", err)
		}
		return p.tasks.SetStatus(txCtx, taskID, []domain.TaskStatus{domain.TaskCrawling}, domain.TaskTranslating)
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	if err != nil {
		p.failTask(ctx, taskID, err)
		return nil
	}

	logger.Info("crawl finished", "articles", len(articles))

	for _, a := range articles {
		if err := p.enqueue(ctx, domain.Job{Name: domain.JobTranslate, TaskID: taskID, ArticleID: a.ID}); err != nil {
			// left pending; the sweeper dispatches it again
			logger.Error("dispatch translation", "article_id", a.ID, "error", err)
		}
	}
	return nil
}

// Translate runs the translation stage for one article. Articles that have
// already left translation are left untouched.
func (p *Pipeline) Translate(ctx context.Context, articleID string) error {
	logger := p.logger.With("article_id", articleID)

	article, err := p.articles.Get(ctx, articleID)
	if err != nil {
		return fmt.Errorf("get article: %w", err)
	}
	if article.Status != domain.ArticlePending && article.Status != domain.ArticleTranslating {
		logger.Debug("translation skipped", "status", article.Status)
		return nil
	}

	task, err := p.tasks.Get(ctx, article.TaskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	if err := p.startTranslation(ctx, article); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Debug("translation owned by another delivery")
			return nil
		}
		return p.persistFailure(ctx, article, "start translation", err)
	}
	p.refreshTask(ctx, article.TaskID)

	res, err := p.translator.Run(ctx, article.SourceTitle, article.SourceContent, p.progressSink(ctx, articleID, domain.ArticleTranslating))
	if err != nil {
		p.releaseTranslation(ctx, article)
		return err
	}
	if res.Outcome.Degraded() {
		logger.Warn("translation degraded",
			"failed_units", res.Outcome.FailedUnits,
			"units", res.Outcome.Units,
			"reasons", res.Outcome.Reasons,
		)
	}

	completed := p.now()
	article.TranslatedTitle = &res.Title
	article.TranslatedContent = &res.Content
	article.TranslationCompletedAt = &completed
	article.Progress = 100
	article.Status = domain.ArticleCompleted
	narrate := task.Narrate && p.narrator != nil
	if narrate {
		article.Status = domain.ArticleGenerating
		article.Progress = 0
	}
	if err := p.articles.Update(ctx, article, domain.ArticleTranslating); err != nil {
		return p.persistFailure(ctx, article, "store translation", err)
	}

	logger.Info("translation finished", "degraded", res.Outcome.Degraded(), "narrate", narrate)

	if narrate {
		job := domain.Job{
			Name:      domain.JobSynthesize,
			TaskID:    article.TaskID,
			ArticleID: article.ID,
			Variants:  p.defaultVariants(),
		}
		if err := p.enqueue(ctx, job); err != nil {
			logger.Error("dispatch synthesis, completing without audio", "error", err)
			article.Status = domain.ArticleCompleted
			article.Progress = 100
			if err := p.articles.Update(ctx, article, domain.ArticleGenerating); err != nil && !errors.Is(err, domain.ErrConflict) {
				return p.persistFailure(ctx, article, "complete article", err)
			}
		}
	}

	p.refreshTask(ctx, article.TaskID)
	return nil
}

// startTranslation takes ownership of an article. A pending article is
// claimed by compare-and-set; a translating one only once its last update is
// older than the lease, so a duplicate delivery never races a live worker.
// Stored progress is kept either way.
func (p *Pipeline) startTranslation(ctx context.Context, a *domain.Article) error {
	if a.Status == domain.ArticleTranslating {
		return p.articles.Reclaim(ctx, a, p.now().Add(-p.config.Lease))
	}
	if a.TranslationStartedAt == nil {
		started := p.now()
		a.TranslationStartedAt = &started
	}
	a.Status = domain.ArticleTranslating
	return p.articles.Update(ctx, a, domain.ArticlePending)
}

// releaseTranslation hands an interrupted article back to pending so its
// redelivery can claim it at once.
func (p *Pipeline) releaseTranslation(ctx context.Context, a *domain.Article) {
	current, err := p.articles.Get(context.WithoutCancel(ctx), a.ID)
	if err != nil {
		p.logger.Warn("release translation", "article_id", a.ID, "error", err)
		return
	}
	current.Status = domain.ArticlePending
	if err := p.articles.Update(context.WithoutCancel(ctx), current, domain.ArticleTranslating); err != nil && !errors.Is(err, domain.ErrConflict) {
		p.logger.Warn("release translation", "article_id", a.ID, "error", err)
	}
}

func (p *Pipeline) defaultVariants() []domain.AudioVariant {
	variants := []domain.AudioVariant{domain.VariantTranslated}
	if p.config.NarrateOriginal {
		variants = append(variants, domain.VariantOriginal)
	}
	return variants
}

// Synthesize narrates the requested variants of a generating article and
// completes it whether or not audio was produced.
func (p *Pipeline) Synthesize(ctx context.Context, articleID string, variants []domain.AudioVariant) error {
	logger := p.logger.With("article_id", articleID)

	article, err := p.articles.Get(ctx, articleID)
	if err != nil {
		return fmt.Errorf("get article: %w", err)
	}
	if article.Status != domain.ArticleGenerating {
		logger.Debug("synthesis skipped", "status", article.Status)
		return nil
	}
	if len(variants) == 0 {
		variants = []domain.AudioVariant{domain.VariantTranslated}
	}

	var todo []domain.AudioVariant
	for _, v := range variants {
		if article.AudioFor(v) == nil {
			todo = append(todo, v)
		}
	}

	for i, v := range todo {
		if p.narrator == nil {
			break
		}
		req := p.narrationRequest(article, v)
		ref, err := p.narrator.Run(ctx, req, p.scaledSink(ctx, articleID, i, len(todo)))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			logger.Warn("synthesis failed, continuing without audio", "variant", v, "error", err)
			continue
		}

		article.SetAudio(v, ref)
		if err := p.articles.Update(ctx, article, domain.ArticleGenerating); err != nil {
			return p.persistFailure(ctx, article, "store audio", err)
		}
		logger.Info("audio stored", "variant", v, "ref", ref)
	}

	article.Status = domain.ArticleCompleted
	article.Progress = 100
	if err := p.articles.Update(ctx, article, domain.ArticleGenerating); err != nil {
		return p.persistFailure(ctx, article, "complete article", err)
	}

	p.refreshTask(ctx, article.TaskID)
	return nil
}

func (p *Pipeline) narrationRequest(a *domain.Article, v domain.AudioVariant) synthesis.Request {
	req := synthesis.Request{ArticleID: a.ID, Variant: v, Text: a.NarrationText(v)}
	if req.Text != a.SourceContent {
		req.Lang = p.config.TargetLanguage
		return req
	}
	req.Lang = p.config.SourceLanguage
	if req.Lang == "" {
		req.Lang = fallbackLanguage
	}
	return req
}

// RequestNarration schedules audio for an already completed article. It
// reports false when the variant already exists.
func (p *Pipeline) RequestNarration(ctx context.Context, articleID string, variant domain.AudioVariant) (bool, error) {
	if p.narrator == nil {
		return false, fmt.Errorf("%w: narration is not configured", domain.ErrInvalidInput)
	}

	article, err := p.articles.Get(ctx, articleID)
	if err != nil {
		return false, err
	}
	if article.AudioFor(variant) != nil {
		return false, nil
	}
	if article.Status != domain.ArticleCompleted {
		return false, fmt.Errorf("%w: article is %s", domain.ErrConflict, article.Status)
	}

	article.Status = domain.ArticleGenerating
	article.Progress = 0
	if err := p.articles.Update(ctx, article, domain.ArticleCompleted); err != nil {
		return false, fmt.Errorf("start narration: %w", err)
	}

	job := domain.Job{
		Name:      domain.JobSynthesize,
		TaskID:    article.TaskID,
		ArticleID: article.ID,
		Variants:  []domain.AudioVariant{variant},
	}
	if err := p.enqueue(ctx, job); err != nil {
		article.Status = domain.ArticleCompleted
		article.Progress = 100
		if rbErr := p.articles.Update(ctx, article, domain.ArticleGenerating); rbErr != nil {
			p.logger.Error("revert narration request", "article_id", articleID, "error", rbErr)
		}
		return false, err
	}

	p.logger.Info("narration requested", "article_id", articleID, "variant", variant)
	return true, nil
}

func (p *Pipeline) enqueue(ctx context.Context, job domain.Job) error {
	job.EnqueuedAt = p.now()
	if err := p.dispatcher.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", job, err)
	}
	return nil
}

// persistFailure resolves an article whose state could not be stored. A lost
// compare-and-set means another delivery owns the article, so it is not a
// failure. Otherwise the article and its task are marked failed; the job
// error is returned only if even that cannot be recorded.
func (p *Pipeline) persistFailure(ctx context.Context, a *domain.Article, op string, cause error) error {
	if errors.Is(cause, domain.ErrConflict) {
		p.logger.Debug("article changed concurrently", "article_id", a.ID, "op", op)
		return nil
	}
	cause = fmt.Errorf("%s: %w", op, cause)
	p.logger.Error("persist article", "article_id", a.ID, "error", cause)

	if err := p.articles.MarkFailed(ctx, a.ID); err != nil {
		return fmt.Errorf("mark article failed: %w (after %v)", err, cause)
	}
	if err := p.tasks.MarkFailed(ctx, a.TaskID, domain.TruncateMessage(cause.Error())); err != nil {
		return fmt.Errorf("mark task failed: %w (after %v)", err, cause)
	}
	return nil
}

func (p *Pipeline) failTask(ctx context.Context, taskID string, cause error) {
	p.logger.Error("task failed", "task_id", taskID, "error", cause)
	if err := p.tasks.MarkFailed(ctx, taskID, domain.TruncateMessage(cause.Error())); err != nil {
		p.logger.Error("mark task failed", "task_id", taskID, "error", err)
	}
}

func (p *Pipeline) refreshTask(ctx context.Context, taskID string) {
	if err := p.tasks.Refresh(ctx, taskID); err != nil {
		p.logger.Warn("refresh task status", "task_id", taskID, "error", err)
	}
}

func (p *Pipeline) progressSink(ctx context.Context, articleID string, status domain.ArticleStatus) func(int) {
	return func(value int) {
		if err := p.articles.UpdateProgress(ctx, articleID, status, value); err != nil {
			p.logger.Debug("update progress", "article_id", articleID, "progress", value, "error", err)
		}
	}
}

// scaledSink folds the progress of the i-th of n narrations into one range.
func (p *Pipeline) scaledSink(ctx context.Context, articleID string, i, n int) func(int) {
	sink := p.progressSink(ctx, articleID, domain.ArticleGenerating)
	return func(value int) {
		sink((i*100 + value) / n)
	}
}
