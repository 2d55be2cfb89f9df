// Package translation runs the title and body of one article through a
// translation engine, substituting original text for any unit that fails.
package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"news_narrator/internal/chunker"
	"news_narrator/internal/progress"
)

const (
	DefaultChunkSize = 1000

	phaseTitle   = "title"
	phaseContent = "content"
)

var errEmptyResult = errors.New("engine returned empty text")

type Engine interface {
	Translate(ctx context.Context, text, sourceLang string) (string, error)
}

type Config struct {
	ChunkSize      int
	SourceLanguage string
	Concurrency    int
}

// Outcome tells a fully translated result apart from a degraded one.
type Outcome struct {
	Units       int
	FailedUnits int
	Reasons     []string
}

func (o Outcome) Degraded() bool {
	return o.FailedUnits > 0
}

type Result struct {
	Title   string
	Content string
	Outcome Outcome
}

type Stage struct {
	engine Engine
	cfg    Config
	logger *slog.Logger
}

func NewStage(engine Engine, cfg Config, logger *slog.Logger) *Stage {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Stage{
		engine: engine,
		cfg:    cfg,
		logger: logger.With("stage", "translation"),
	}
}

// Run translates title and content. Engine failures never surface as errors:
// the affected unit keeps its original text and the outcome records why. The
// only error returned is the context's, checked between units.
func (s *Stage) Run(ctx context.Context, title, content string, sink progress.Sink) (Result, error) {
	tracker := progress.NewTracker(sink,
		progress.Phase{Name: phaseTitle, Weight: 10},
		progress.Phase{Name: phaseContent, Weight: 90},
	)

	var (
		res Result
		out = &res.Outcome
	)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	res.Title = s.unit(ctx, title, out, "title")
	tracker.Report(phaseTitle, 1, 1)

	if err := ctx.Err(); err != nil {
		return res, err
	}

	if utf8.RuneCountInString(content) <= s.cfg.ChunkSize {
		res.Content = s.unit(ctx, content, out, "content")
		tracker.Report(phaseContent, 1, 1)
		tracker.Complete()
		return res, nil
	}

	segments := chunker.Split(content, s.cfg.ChunkSize)
	s.logger.Debug("translating in chunks", "chunks", len(segments), "chunk_size", s.cfg.ChunkSize)

	type chunkResult struct {
		text   string
		reason string
	}
	results, err := chunker.Map(ctx, segments, s.cfg.Concurrency, func(i int, seg chunker.Segment) chunkResult {
		text, err := s.translate(ctx, seg.Text)
		if err != nil {
			s.logger.Warn("chunk translation failed, keeping original", "chunk", i, "error", err)
			return chunkResult{text: seg.Text, reason: fmt.Sprintf("chunk %d: %v", i, err)}
		}
		return chunkResult{text: text}
	}, func(done int) {
		tracker.Report(phaseContent, done, len(segments))
	})
	if err != nil {
		return res, err
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.text
		out.Units++
		if r.reason != "" {
			out.FailedUnits++
			out.Reasons = append(out.Reasons, r.reason)
		}
	}
	res.Content = chunker.Join(chunker.Replace(segments, texts))
	tracker.Complete()
	return res, nil
}

func (s *Stage) unit(ctx context.Context, text string, out *Outcome, name string) string {
	out.Units++
	translated, err := s.translate(ctx, text)
	if err != nil {
		s.logger.Warn("translation failed, keeping original", "unit", name, "error", err)
		out.FailedUnits++
		out.Reasons = append(out.Reasons, fmt.Sprintf("%s: %v", name, err))
		return text
	}
	return translated
}

// translate calls the engine on a context detached from cancellation so an
// in-flight request always runs to completion.
func (s *Stage) translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	translated, err := s.engine.Translate(context.WithoutCancel(ctx), text, s.cfg.SourceLanguage)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(translated) == "" {
		return "", errEmptyResult
	}
	return translated, nil
}
