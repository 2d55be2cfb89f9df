// Package synthesis turns article text into a single narrated audio artifact.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"news_narrator/internal/chunker"
	"news_narrator/internal/domain"
	"news_narrator/internal/progress"
)

const (
	DefaultChunkSize  = 5000
	DefaultSilenceGap = 500 * time.Millisecond

	phaseSetup  = "setup"
	phaseChunks = "chunks"
	phaseMerge  = "merge"
)

var ErrNoAudio = errors.New("no chunk produced audio")

type Engine interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Merger concatenates audio blobs with gap of silence between neighbours.
type Merger interface {
	Merge(ctx context.Context, parts [][]byte, gap time.Duration) ([]byte, error)
}

// Artifacts persists audio under a key and returns a reference to it.
type Artifacts interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

type Config struct {
	ChunkSize   int
	SilenceGap  time.Duration
	Concurrency int
}

type Request struct {
	ArticleID string
	Variant   domain.AudioVariant
	Text      string
	Lang      string
}

func (r Request) key() string {
	return r.ArticleID + r.Variant.Suffix()
}

func (r Request) partKey(i int) string {
	return fmt.Sprintf("%s.part%d", r.key(), i)
}

type Stage struct {
	engine    Engine
	merger    Merger
	artifacts Artifacts
	cfg       Config
	logger    *slog.Logger
}

// NewStage builds a synthesis stage. merger may be nil, in which case long
// texts are narrated by their first chunk only.
func NewStage(engine Engine, merger Merger, artifacts Artifacts, cfg Config, logger *slog.Logger) *Stage {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.SilenceGap <= 0 {
		cfg.SilenceGap = DefaultSilenceGap
	}
	return &Stage{
		engine:    engine,
		merger:    merger,
		artifacts: artifacts,
		cfg:       cfg,
		logger:    logger.With("stage", "synthesis"),
	}
}

// Run narrates req.Text and returns the reference of the final artifact.
func (s *Stage) Run(ctx context.Context, req Request, sink progress.Sink) (string, error) {
	logger := s.logger.With("article_id", req.ArticleID, "variant", req.Variant)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if utf8.RuneCountInString(req.Text) <= s.cfg.ChunkSize {
		return s.atomic(ctx, req, sink)
	}
	return s.chunked(ctx, req, sink, logger)
}

func (s *Stage) atomic(ctx context.Context, req Request, sink progress.Sink) (string, error) {
	tracker := progress.NewTracker(sink)
	tracker.Set(50)

	audio, err := s.engine.Synthesize(context.WithoutCancel(ctx), req.Text, req.Lang)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	ref, err := s.artifacts.Write(ctx, req.key(), audio)
	if err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	tracker.Complete()
	return ref, nil
}

type part struct {
	key string
	ok  bool
}

func (s *Stage) chunked(ctx context.Context, req Request, sink progress.Sink, logger *slog.Logger) (string, error) {
	tracker := progress.NewTracker(sink,
		progress.Phase{Name: phaseSetup, Weight: 10},
		progress.Phase{Name: phaseChunks, Weight: 80},
		progress.Phase{Name: phaseMerge, Weight: 10},
	)

	segments := chunker.Split(req.Text, s.cfg.ChunkSize)
	tracker.Report(phaseSetup, 1, 1)
	logger.Debug("synthesizing in chunks", "chunks", len(segments), "chunk_size", s.cfg.ChunkSize)

	// The first chunk goes straight to the final location so it already
	// serves as the fallback if merging is not possible.
	parts, err := chunker.Map(ctx, segments, s.cfg.Concurrency, func(i int, seg chunker.Segment) part {
		key := req.partKey(i)
		if i == 0 {
			key = req.key()
		}
		audio, err := s.engine.Synthesize(context.WithoutCancel(ctx), seg.Text, req.Lang)
		if err != nil {
			logger.Warn("chunk synthesis failed, skipping", "chunk", i, "error", err)
			return part{key: key}
		}
		if _, err := s.artifacts.Write(ctx, key, audio); err != nil {
			logger.Warn("chunk write failed, skipping", "chunk", i, "error", err)
			return part{key: key}
		}
		return part{key: key, ok: true}
	}, func(done int) {
		tracker.Report(phaseChunks, done, len(segments))
	})
	defer s.removeTransient(ctx, req, parts, logger)
	if err != nil {
		return "", err
	}

	var keys []string
	for _, p := range parts {
		if p.ok {
			keys = append(keys, p.key)
		}
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: %d chunks failed", ErrNoAudio, len(parts))
	}

	ref, err := s.assemble(ctx, req, keys, logger)
	if err != nil {
		return "", err
	}

	tracker.Report(phaseMerge, 1, 1)
	tracker.Complete()
	return ref, nil
}

// assemble writes the merged audio to the final key, falling back to the
// first successful chunk when there is no merger or the merge fails.
func (s *Stage) assemble(ctx context.Context, req Request, keys []string, logger *slog.Logger) (string, error) {
	blobs := make([][]byte, 0, len(keys))
	for _, key := range keys {
		data, err := s.artifacts.Read(ctx, key)
		if err != nil {
			return "", fmt.Errorf("read chunk artifact: %w", err)
		}
		blobs = append(blobs, data)
	}

	final := blobs[0]
	switch {
	case len(blobs) == 1:
	case s.merger == nil:
		logger.Warn("no merger configured, keeping first chunk only", "chunks", len(blobs))
	default:
		merged, err := s.merger.Merge(context.WithoutCancel(ctx), blobs, s.cfg.SilenceGap)
		if err != nil {
			logger.Warn("merge failed, keeping first chunk only", "error", err)
		} else {
			final = merged
		}
	}

	ref, err := s.artifacts.Write(ctx, req.key(), final)
	if err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return ref, nil
}

func (s *Stage) removeTransient(ctx context.Context, req Request, parts []part, logger *slog.Logger) {
	for i, p := range parts {
		if i == 0 || !p.ok {
			continue
		}
		if err := s.artifacts.Remove(context.WithoutCancel(ctx), p.key); err != nil {
			logger.Warn("remove transient artifact", "key", p.key, "error", err)
		}
	}
}
