package domain

import "time"

type ArticleStatus string

const (
	ArticlePending     ArticleStatus = "pending"
	ArticleTranslating ArticleStatus = "translating"
	ArticleGenerating  ArticleStatus = "generating"
	ArticleCompleted   ArticleStatus = "completed"
	ArticleFailed      ArticleStatus = "failed"
)

// Article is one piece of content inside a task. Source fields never change
// after creation; everything else is written by the pipeline.
type Article struct {
	ID                     string        `db:"id"`
	TaskID                 string        `db:"task_id"`
	SourceTitle            string        `db:"source_title"`
	SourceContent          string        `db:"source_content"`
	SourceURL              *string       `db:"source_url"`
	Author                 *string       `db:"author"`
	PublishedAt            *time.Time    `db:"published_at"`
	TranslatedTitle        *string       `db:"translated_title"`
	TranslatedContent      *string       `db:"translated_content"`
	AudioRef               *string       `db:"audio_ref"`
	AudioRefOriginal       *string       `db:"audio_ref_original"`
	Status                 ArticleStatus `db:"status"`
	Progress               int           `db:"progress"`
	TranslationStartedAt   *time.Time    `db:"translation_started_at"`
	TranslationCompletedAt *time.Time    `db:"translation_completed_at"`
	CreatedAt              time.Time     `db:"created_at"`
	UpdatedAt              time.Time     `db:"updated_at"`
}

// AudioFor returns the artifact reference for the given variant, if any.
func (a *Article) AudioFor(v AudioVariant) *string {
	if v == VariantOriginal {
		return a.AudioRefOriginal
	}
	return a.AudioRef
}

// SetAudio records the artifact reference for the given variant.
func (a *Article) SetAudio(v AudioVariant, ref string) {
	if v == VariantOriginal {
		a.AudioRefOriginal = &ref
		return
	}
	a.AudioRef = &ref
}

// NarrationText picks the text a variant is synthesized from. The translated
// variant falls back to the source text when no translation was stored.
func (a *Article) NarrationText(v AudioVariant) string {
	if v == VariantTranslated && a.TranslatedContent != nil && *a.TranslatedContent != "" {
		return *a.TranslatedContent
	}
	return a.SourceContent
}

// Crawled is an article extracted from a page before it is persisted.
type Crawled struct {
	Title       string
	Content     string
	URL         string
	Author      *string
	PublishedAt *time.Time
}
