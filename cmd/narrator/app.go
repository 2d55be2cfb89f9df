package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"news_narrator/internal/artifact"
	"news_narrator/internal/config"
	"news_narrator/internal/dispatch"
	"news_narrator/internal/domain"
	"news_narrator/internal/engine/ffmpeg"
	"news_narrator/internal/engine/openai"
	"news_narrator/internal/service"
	"news_narrator/internal/source/web"
	"news_narrator/internal/storage/sqlstore"
	"news_narrator/internal/synthesis"
	"news_narrator/internal/translation"
)

type appOptions struct {
	// engines wires the translation and synthesis engines; query commands
	// run without them.
	engines  bool
	dispatch bool
}

type application struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sqlx.DB
	pipeline *service.Pipeline

	local  *dispatch.Local
	rabbit *dispatch.RabbitMQ
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*application, error) {
	db, err := sqlstore.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := sqlstore.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("connected to database", "driver", cfg.Database.Driver)

	app := &application{cfg: cfg, logger: logger, db: db}

	var dispatcher service.Dispatcher
	if opts.dispatch {
		switch cfg.Dispatch.Mode {
		case config.DispatchLocal:
			app.local = dispatch.NewLocal(cfg.Dispatch.QueueSize, logger)
			dispatcher = app.local
		default:
			app.rabbit, err = dispatch.NewRabbitMQ(dispatch.Config{
				URL:        cfg.RabbitMQ.URL,
				Exchange:   cfg.RabbitMQ.Exchange,
				RoutingKey: cfg.RabbitMQ.RoutingKey,
				QueueName:  cfg.RabbitMQ.QueueName,
			}, logger)
			if err != nil {
				app.Close()
				return nil, err
			}
			dispatcher = app.rabbit
		}
	}

	var (
		translator service.Translator
		narrator   service.Narrator
	)
	if opts.engines {
		translator, err = newTranslationStage(cfg, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		if cfg.Synthesis.Enabled {
			narrator, err = newSynthesisStage(ctx, cfg, logger)
			if err != nil {
				app.Close()
				return nil, err
			}
		}
	}

	crawler := web.New(web.Config{
		Timeout:        cfg.Crawler.Timeout,
		UserAgent:      cfg.Crawler.UserAgent,
		MaxAttempts:    cfg.Crawler.Retry.MaxAttempts,
		InitialBackoff: cfg.Crawler.Retry.InitialBackoff,
		MaxBackoff:     cfg.Crawler.Retry.MaxBackoff,
	}, logger)

	app.pipeline = service.NewPipeline(
		sqlstore.NewTaskStore(db),
		sqlstore.NewArticleStore(db),
		sqlstore.NewTransactionManager(db),
		dispatcher,
		crawler,
		translator,
		narrator,
		logger,
		cfg.Pipeline,
	)
	return app, nil
}

func newTranslationStage(cfg *config.Config, logger *slog.Logger) (*translation.Stage, error) {
	engine, err := openai.NewTranslator(openai.TranslatorConfig{
		APIKey:         cfg.Translation.APIKey,
		BaseURL:        cfg.Translation.BaseURL,
		Model:          cfg.Translation.Model,
		TargetLanguage: cfg.Pipeline.TargetLanguage,
		Temperature:    cfg.Translation.Temperature,
		Timeout:        cfg.Translation.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create translator: %w", err)
	}
	return translation.NewStage(engine, translation.Config{
		ChunkSize:      cfg.Translation.ChunkSize,
		SourceLanguage: cfg.Pipeline.SourceLanguage,
		Concurrency:    cfg.Translation.Concurrency,
	}, logger), nil
}

func newSynthesisStage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*synthesis.Stage, error) {
	engine, err := openai.NewSpeaker(openai.SpeakerConfig{
		APIKey:  cfg.Synthesis.APIKey,
		BaseURL: cfg.Synthesis.BaseURL,
		Model:   cfg.Synthesis.Model,
		Voice:   cfg.Synthesis.Voice,
		Format:  cfg.Synthesis.Format,
		Timeout: cfg.Synthesis.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create speaker: %w", err)
	}

	store, err := artifact.NewStore(cfg.Synthesis.AudioDir, cfg.Synthesis.Format)
	if err != nil {
		return nil, err
	}

	var merger synthesis.Merger
	if cfg.Synthesis.Merge {
		m := ffmpeg.New(cfg.Synthesis.FFmpegPath, cfg.Synthesis.Format)
		if err := m.CheckInstalled(ctx); err != nil {
			logger.Warn("ffmpeg unavailable, long texts keep their first chunk only", "error", err)
		} else {
			merger = m
		}
	}

	return synthesis.NewStage(engine, merger, store, synthesis.Config{
		ChunkSize:   cfg.Synthesis.ChunkSize,
		SilenceGap:  cfg.Synthesis.SilenceGap,
		Concurrency: cfg.Synthesis.Concurrency,
	}, logger), nil
}

// consume runs job handlers until ctx is cancelled.
func (a *application) consume(ctx context.Context) error {
	switch {
	case a.local != nil:
		return a.local.Run(ctx, a.cfg.Dispatch.Workers, a.pipeline.Handle)
	case a.rabbit != nil:
		return a.rabbit.Consume(ctx, a.cfg.Dispatch.Workers, a.pipeline.Handle)
	}
	return errors.New("no dispatcher configured")
}

// processInline runs local workers until done reports true. It does
// nothing for brokered dispatch, where a separate worker picks the jobs up.
func (a *application) processInline(ctx context.Context, done func(context.Context) (bool, error)) error {
	if a.local == nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- a.local.Run(runCtx, a.cfg.Dispatch.Workers, a.pipeline.Handle) }()

	err := waitFor(runCtx, done)
	cancel()
	<-errCh
	return err
}

func waitFor(ctx context.Context, done func(context.Context) (bool, error)) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := done(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *application) taskFinished(id string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		task, err := a.pipeline.GetTask(ctx, id)
		if err != nil {
			return false, err
		}
		return task.Status.Terminal(), nil
	}
}

func (a *application) articleSettled(id string) func(context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		article, err := a.pipeline.GetArticle(ctx, id)
		if err != nil {
			return false, err
		}
		return article.Status == domain.ArticleCompleted || article.Status == domain.ArticleFailed, nil
	}
}

func (a *application) Close() {
	if a.local != nil {
		_ = a.local.Close()
	}
	if a.rabbit != nil {
		_ = a.rabbit.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
