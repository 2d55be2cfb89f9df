package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"news_narrator/internal/domain"
)

// ErrClosed is returned by Enqueue once the dispatcher has shut down.
var ErrClosed = errors.New("dispatcher closed")

// Handler processes one job. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, job domain.Job) error

func encodeJob(job domain.Job) ([]byte, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return body, nil
}

func decodeJob(body []byte) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}
