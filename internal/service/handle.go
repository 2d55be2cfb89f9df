package service

import (
	"context"
	"fmt"

	"news_narrator/internal/domain"
)

// Handle routes a dispatched job to its stage. Errors mean the job should be
// delivered again.
func (p *Pipeline) Handle(ctx context.Context, job domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	switch job.Name {
	case domain.JobCrawl:
		return p.Crawl(ctx, job.TaskID)
	case domain.JobTranslate:
		return p.Translate(ctx, job.ArticleID)
	case domain.JobSynthesize:
		return p.Synthesize(ctx, job.ArticleID, job.Variants)
	}
	return fmt.Errorf("%w: unhandled job %s", domain.ErrInvalidInput, job.Name)
}
