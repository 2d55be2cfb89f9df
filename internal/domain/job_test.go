package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{name: "crawl", job: Job{Name: JobCrawl, TaskID: "t"}},
		{name: "crawl without task", job: Job{Name: JobCrawl, ArticleID: "a"}, wantErr: true},
		{name: "translate", job: Job{Name: JobTranslate, ArticleID: "a"}},
		{name: "translate without article", job: Job{Name: JobTranslate, TaskID: "t"}, wantErr: true},
		{name: "synthesize", job: Job{Name: JobSynthesize, ArticleID: "a", Variants: []AudioVariant{VariantOriginal}}},
		{name: "synthesize unknown variant", job: Job{Name: JobSynthesize, ArticleID: "a", Variants: []AudioVariant{"dubbed"}}, wantErr: true},
		{name: "unknown job", job: Job{Name: "publish", TaskID: "t"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant("")
	assert.NoError(t, err)
	assert.Equal(t, VariantTranslated, v)

	v, err = ParseVariant("original")
	assert.NoError(t, err)
	assert.Equal(t, VariantOriginal, v)
	assert.Equal(t, "_original", v.Suffix())
	assert.Empty(t, VariantTranslated.Suffix())

	_, err = ParseVariant("Original")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTruncateMessage(t *testing.T) {
	assert.Equal(t, "short", TruncateMessage("short"))

	long := strings.Repeat("é", MaxErrorMessage+20)
	got := TruncateMessage(long)
	assert.Equal(t, MaxErrorMessage, len([]rune(got)))
}

func TestArticleNarrationText(t *testing.T) {
	translated := "Bonjour"
	a := &Article{SourceContent: "Hello"}
	assert.Equal(t, "Hello", a.NarrationText(VariantTranslated))

	a.TranslatedContent = &translated
	assert.Equal(t, "Bonjour", a.NarrationText(VariantTranslated))
	assert.Equal(t, "Hello", a.NarrationText(VariantOriginal))

	a.SetAudio(VariantOriginal, "a_original.mp3")
	assert.Nil(t, a.AudioFor(VariantTranslated))
	assert.Equal(t, "a_original.mp3", *a.AudioFor(VariantOriginal))
}
