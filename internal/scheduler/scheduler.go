package scheduler

import (
	"context"
	"log/slog"
	"time"

	"news_narrator/internal/domain"
)

// Sweeper resolves work that stopped making progress.
type Sweeper interface {
	SweepStale(ctx context.Context, olderThan time.Duration) (*domain.SweepStats, error)
}

type Scheduler struct {
	sweeper    Sweeper
	interval   time.Duration
	staleAfter time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

func NewScheduler(sweeper Sweeper, interval, staleAfter time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sweeper:    sweeper,
		interval:   interval,
		staleAfter: staleAfter,
		timeout:    5 * time.Minute,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start sweeps once immediately and then on every tick until ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "stale_after", s.staleAfter)

	s.runSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.sweeper.SweepStale(sweepCtx, s.staleAfter); err != nil {
		s.logger.Error("sweep failed", "error", err)
	}
}
