package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"news_narrator/internal/domain"
)

type countingSweeper struct {
	mu     sync.Mutex
	calls  int
	ages   []time.Duration
	err    error
	cancel context.CancelFunc
	stopAt int
}

func (c *countingSweeper) SweepStale(_ context.Context, olderThan time.Duration) (*domain.SweepStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.ages = append(c.ages, olderThan)
	if c.calls >= c.stopAt {
		c.cancel()
	}
	return &domain.SweepStats{}, c.err
}

func TestScheduler_SweepsImmediatelyAndOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := &countingSweeper{cancel: cancel, stopAt: 3, err: errors.New("db down")}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 4}))
	s := NewScheduler(sweeper, 10*time.Millisecond, time.Hour, logger)

	err := s.Start(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, sweeper.calls, 3)
	for _, age := range sweeper.ages {
		assert.Equal(t, time.Hour, age)
	}
}
