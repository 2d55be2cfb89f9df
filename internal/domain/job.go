package domain

import (
	"fmt"
	"time"
)

type JobName string

const (
	JobCrawl      JobName = "crawl"
	JobTranslate  JobName = "translate"
	JobSynthesize JobName = "synthesize"
)

type AudioVariant string

const (
	VariantTranslated AudioVariant = "translated"
	VariantOriginal   AudioVariant = "original"
)

// Suffix is appended to the article id to address the variant's artifact.
func (v AudioVariant) Suffix() string {
	if v == VariantOriginal {
		return "_original"
	}
	return ""
}

func ParseVariant(s string) (AudioVariant, error) {
	switch AudioVariant(s) {
	case "", VariantTranslated:
		return VariantTranslated, nil
	case VariantOriginal:
		return VariantOriginal, nil
	}
	return "", fmt.Errorf("%w: unknown audio variant %q", ErrInvalidInput, s)
}

// Job is the unit of asynchronous work handed to the dispatcher.
type Job struct {
	Name       JobName        `json:"name"`
	TaskID     string         `json:"task_id,omitempty"`
	ArticleID  string         `json:"article_id,omitempty"`
	Variants   []AudioVariant `json:"variants,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

func (j Job) String() string {
	switch j.Name {
	case JobCrawl:
		return fmt.Sprintf("crawl(task=%s)", j.TaskID)
	case JobSynthesize:
		return fmt.Sprintf("synthesize(article=%s, variants=%v)", j.ArticleID, j.Variants)
	default:
		return fmt.Sprintf("%s(article=%s)", j.Name, j.ArticleID)
	}
}

// Validate checks that the job names a known stage and carries the id that
// stage needs.
func (j Job) Validate() error {
	switch j.Name {
	case JobCrawl:
		if j.TaskID == "" {
			return fmt.Errorf("%w: crawl job without task id", ErrInvalidInput)
		}
	case JobTranslate, JobSynthesize:
		if j.ArticleID == "" {
			return fmt.Errorf("%w: %s job without article id", ErrInvalidInput, j.Name)
		}
	default:
		return fmt.Errorf("%w: unknown job %q", ErrInvalidInput, j.Name)
	}
	for _, v := range j.Variants {
		if _, err := ParseVariant(string(v)); err != nil {
			return err
		}
	}
	return nil
}
