package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"news_narrator/internal/domain"
)

// ErrQueueFull is returned when the in-process queue has no free slot.
var ErrQueueFull = errors.New("dispatch queue full")

// Local is an in-process dispatcher backed by a buffered channel. Jobs still
// queued when the process stops are recovered by the sweeper.
type Local struct {
	jobs   chan domain.Job
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewLocal(queueSize int, logger *slog.Logger) *Local {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Local{
		jobs:   make(chan domain.Job, queueSize),
		logger: logger.With("component", "local_dispatch"),
	}
}

// Enqueue never blocks, so handlers can dispatch follow-up jobs from inside a
// worker.
func (l *Local) Enqueue(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	select {
	case l.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes queued jobs on workers goroutines until ctx is cancelled.
func (l *Local) Run(ctx context.Context, workers int, handle Handler) error {
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-l.jobs:
					if err := handle(ctx, job); err != nil {
						l.logger.Warn("job failed", "job", job.String(), "error", err)
					}
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Pending reports how many jobs wait in the queue.
func (l *Local) Pending() int {
	return len(l.jobs)
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
