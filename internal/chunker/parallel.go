package chunker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Map calls fn for every segment and returns the results indexed like the
// input. With workers <= 1 segments are processed one after another in
// document order. done, if set, receives the running count of finished
// segments; counts are delivered in increasing order.
//
// The context is checked before each segment starts. A cancelled context
// stops scheduling new segments and Map returns ctx.Err() once in-flight
// calls have finished.
func Map[T any](ctx context.Context, segments []Segment, workers int, fn func(i int, s Segment) T, done func(completed int)) ([]T, error) {
	results := make([]T, len(segments))

	if workers <= 1 {
		for i, s := range segments {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			results[i] = fn(i, s)
			if done != nil {
				done(i + 1)
			}
		}
		return results, nil
	}

	var (
		mu        sync.Mutex
		completed int
	)
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, s := range segments {
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := fn(i, s)

			mu.Lock()
			defer mu.Unlock()
			results[i] = r
			completed++
			if done != nil {
				done(completed)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
