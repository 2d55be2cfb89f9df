package service_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news_narrator/internal/artifact"
	"news_narrator/internal/config"
	"news_narrator/internal/dispatch"
	"news_narrator/internal/domain"
	"news_narrator/internal/service"
	"news_narrator/internal/storage/sqlstore"
	"news_narrator/internal/synthesis"
	"news_narrator/internal/translation"
)

type upperEngine struct{}

func (upperEngine) Translate(_ context.Context, text, _ string) (string, error) {
	return strings.ToUpper(text), nil
}

type echoSpeech struct{}

func (echoSpeech) Synthesize(_ context.Context, text, lang string) ([]byte, error) {
	return []byte(lang + ":" + text), nil
}

// gatedEngine upper-cases text and holds the call for block until gate closes.
type gatedEngine struct {
	block string
	gate  chan struct{}
	calls atomic.Int32
}

func (e *gatedEngine) Translate(_ context.Context, text, _ string) (string, error) {
	e.calls.Add(1)
	if text == e.block {
		<-e.gate
	}
	return strings.ToUpper(text), nil
}

type flowOptions struct {
	engine    translation.Engine
	chunkSize int
	// manual leaves queued jobs alone so tests drive the stages directly.
	manual bool
}

type flow struct {
	pipeline *service.Pipeline
	local    *dispatch.Local
	audioDir string
}

func newFlow(t *testing.T, cfg config.PipelineConfig, opts flowOptions) *flow {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := sqlstore.Open(ctx, config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "narrator.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlstore.Migrate(ctx, db))

	audioDir := t.TempDir()
	store, err := artifact.NewStore(audioDir, "mp3")
	require.NoError(t, err)

	if opts.engine == nil {
		opts.engine = upperEngine{}
	}
	if opts.chunkSize == 0 {
		opts.chunkSize = 1000
	}

	local := dispatch.NewLocal(64, logger)
	translator := translation.NewStage(opts.engine, translation.Config{ChunkSize: opts.chunkSize}, logger)
	narrator := synthesis.NewStage(echoSpeech{}, nil, store, synthesis.Config{ChunkSize: 1000}, logger)

	pipeline := service.NewPipeline(
		sqlstore.NewTaskStore(db),
		sqlstore.NewArticleStore(db),
		sqlstore.NewTransactionManager(db),
		local,
		nil,
		translator,
		narrator,
		logger,
		cfg,
	)

	f := &flow{pipeline: pipeline, local: local, audioDir: audioDir}
	if opts.manual {
		return f
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = local.Run(runCtx, 2, pipeline.Handle)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return f
}

func (f *flow) waitTask(t *testing.T, id string) *domain.Task {
	t.Helper()
	var task *domain.Task
	require.Eventually(t, func() bool {
		got, err := f.pipeline.GetTask(context.Background(), id)
		if err != nil {
			return false
		}
		task = got
		return got.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestFlow_TextWithoutNarration(t *testing.T) {
	f := newFlow(t, config.PipelineConfig{TargetLanguage: "zh"}, flowOptions{})
	ctx := context.Background()

	task, err := f.pipeline.Submit(ctx, service.SubmitRequest{Title: "Morning news", Content: "markets rose today"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Equal(t, domain.OriginText, task.Origin)

	task = f.waitTask(t, task.ID)
	assert.Equal(t, domain.TaskCompleted, task.Status)
	assert.Nil(t, task.ErrorMessage)

	articles, err := f.pipeline.ListArticles(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, articles, 1)

	a := articles[0]
	assert.Equal(t, domain.ArticleCompleted, a.Status)
	assert.Equal(t, 100, a.Progress)
	require.NotNil(t, a.TranslatedTitle)
	require.NotNil(t, a.TranslatedContent)
	assert.Equal(t, "MORNING NEWS", *a.TranslatedTitle)
	assert.Equal(t, "MARKETS ROSE TODAY", *a.TranslatedContent)
	assert.Nil(t, a.AudioRef)
	require.NotNil(t, a.TranslationStartedAt)
	require.NotNil(t, a.TranslationCompletedAt)
	assert.False(t, a.TranslationCompletedAt.Before(*a.TranslationStartedAt))
}

func TestFlow_TextWithNarration(t *testing.T) {
	f := newFlow(t, config.PipelineConfig{TargetLanguage: "zh"}, flowOptions{})
	ctx := context.Background()

	task, err := f.pipeline.Submit(ctx, service.SubmitRequest{Content: "quiet day", Narrate: true})
	require.NoError(t, err)

	task = f.waitTask(t, task.ID)
	assert.Equal(t, domain.TaskCompleted, task.Status)

	articles, err := f.pipeline.ListArticles(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	a := articles[0]
	assert.Equal(t, service.DefaultTitle, a.SourceTitle)
	require.NotNil(t, a.AudioRef)
	assert.Nil(t, a.AudioRefOriginal)

	data, err := os.ReadFile(*a.AudioRef)
	require.NoError(t, err)
	assert.Equal(t, "zh:QUIET DAY", string(data))
}

func TestFlow_NarrationOnDemand(t *testing.T) {
	f := newFlow(t, config.PipelineConfig{TargetLanguage: "zh", SourceLanguage: "en"}, flowOptions{})
	ctx := context.Background()

	task, err := f.pipeline.Submit(ctx, service.SubmitRequest{Title: "Evening edition", Content: "rain expected"})
	require.NoError(t, err)
	f.waitTask(t, task.ID)

	articles, err := f.pipeline.ListArticles(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	id := articles[0].ID

	scheduled, err := f.pipeline.RequestNarration(ctx, id, domain.VariantOriginal)
	require.NoError(t, err)
	assert.True(t, scheduled)

	var article *domain.Article
	require.Eventually(t, func() bool {
		article, err = f.pipeline.GetArticle(ctx, id)
		return err == nil && article.Status == domain.ArticleCompleted
	}, 5*time.Second, 10*time.Millisecond)

	require.NotNil(t, article.AudioRefOriginal)
	assert.Nil(t, article.AudioRef)
	assert.Equal(t, filepath.Join(f.audioDir, id+"_original.mp3"), *article.AudioRefOriginal)

	data, err := os.ReadFile(*article.AudioRefOriginal)
	require.NoError(t, err)
	assert.Equal(t, "en:rain expected", string(data))

	scheduled, err = f.pipeline.RequestNarration(ctx, id, domain.VariantOriginal)
	require.NoError(t, err)
	assert.False(t, scheduled)

	got, err := f.pipeline.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, got.Status)
}

func TestFlow_RejectsInvalidSubmissions(t *testing.T) {
	f := newFlow(t, config.PipelineConfig{TargetLanguage: "zh"}, flowOptions{})
	ctx := context.Background()

	_, err := f.pipeline.Submit(ctx, service.SubmitRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.pipeline.Submit(ctx, service.SubmitRequest{Content: "x", URL: "https://example.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.pipeline.Submit(ctx, service.SubmitRequest{URL: "https://example.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "no crawler configured")

	tasks, total, err := f.pipeline.ListTasks(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Zero(t, total)
}

func TestFlow_DuplicateTranslateLeavesRunningWorkAlone(t *testing.T) {
	engine := &gatedEngine{block: "second paragraph", gate: make(chan struct{})}
	f := newFlow(t, config.PipelineConfig{TargetLanguage: "zh"}, flowOptions{
		engine:    engine,
		chunkSize: 20,
		manual:    true,
	})
	ctx := context.Background()

	task, err := f.pipeline.Submit(ctx, service.SubmitRequest{
		Title:   "Overlap",
		Content: "first paragraph\n\nsecond paragraph\n\nthird paragraph",
	})
	require.NoError(t, err)
	articles, err := f.pipeline.ListArticles(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	id := articles[0].ID

	first := make(chan error, 1)
	go func() { first <- f.pipeline.Translate(ctx, id) }()

	// title plus the first of three chunks
	require.Eventually(t, func() bool {
		a, err := f.pipeline.GetArticle(ctx, id)
		return err == nil && a.Status == domain.ArticleTranslating && a.Progress == 40
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.pipeline.Translate(ctx, id))

	a, err := f.pipeline.GetArticle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ArticleTranslating, a.Status)
	assert.Equal(t, 40, a.Progress)

	close(engine.gate)
	require.NoError(t, <-first)

	a, err = f.pipeline.GetArticle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ArticleCompleted, a.Status)
	assert.Equal(t, 100, a.Progress)
	require.NotNil(t, a.TranslatedContent)
	assert.Equal(t, "FIRST PARAGRAPH\n\nSECOND PARAGRAPH\n\nTHIRD PARAGRAPH", *a.TranslatedContent)
	assert.Equal(t, int32(4), engine.calls.Load(), "each unit reaches the engine once")
}
