package web

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"news_narrator/internal/domain"
)

var (
	titleSelectors = []string{
		"h1",
		"article h1",
		".article-title",
		".post-title",
		".entry-title",
		`[itemprop="headline"]`,
	}
	contentSelectors = []string{
		"article",
		".article-body",
		".post-content",
		".entry-content",
		`[itemprop="articleBody"]`,
		"main",
	}
	timeSelectors = []string{
		"time[datetime]",
		"time",
		`[itemprop="datePublished"]`,
		".publish-date",
		".post-date",
	}
	authorSelectors = []string{
		`[itemprop="author"]`,
		".author",
		".by-author",
		".post-author",
	}
	dateLayouts = []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"January 2, 2006",
	}
)

// minTitle and minContent decide when a selector found the real thing
// rather than a fragment of page chrome.
const (
	minTitle   = 10
	minContent = 100
)

// extractArticle pulls an article out of doc. It reports false when the page
// carries no paragraph text.
func extractArticle(doc *goquery.Document, pageURL string) (domain.Crawled, bool) {
	content := extractContent(doc)
	if content == "" {
		return domain.Crawled{}, false
	}

	a := domain.Crawled{
		Title:       extractTitle(doc),
		Content:     content,
		URL:         pageURL,
		PublishedAt: extractPublished(doc),
	}
	if author := firstText(doc, authorSelectors); author != "" {
		a.Author = &author
	}
	return a, true
}

func extractTitle(doc *goquery.Document) string {
	var fallback string
	for _, sel := range titleSelectors {
		title := selectText(doc, sel)
		if len([]rune(title)) > minTitle {
			return title
		}
		if fallback == "" {
			fallback = title
		}
	}
	if fallback == "" {
		fallback = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if fallback == "" {
		return untitled
	}
	return fallback
}

func extractContent(doc *goquery.Document) string {
	var content string
	for _, sel := range contentSelectors {
		elem := doc.Find(sel).First()
		if elem.Length() == 0 {
			continue
		}
		content = paragraphs(elem)
		if len([]rune(content)) > minContent {
			return content
		}
	}
	if content == "" {
		content = paragraphs(doc.Selection)
	}
	return content
}

// paragraphs joins the non-empty <p> texts below s with blank lines.
func paragraphs(s *goquery.Selection) string {
	var parts []string
	s.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := normalizeSpace(p.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

func extractPublished(doc *goquery.Document) *time.Time {
	for _, sel := range timeSelectors {
		elem := doc.Find(sel).First()
		if elem.Length() == 0 {
			continue
		}
		raw, ok := elem.Attr("datetime")
		if !ok {
			raw, ok = elem.Attr("content")
		}
		if !ok {
			raw = elem.Text()
		}
		if t, ok := parseDate(strings.TrimSpace(raw)); ok {
			return &t
		}
	}
	return nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := selectText(doc, sel); text != "" {
			return text
		}
	}
	return ""
}

func selectText(doc *goquery.Document, sel string) string {
	return normalizeSpace(doc.Find(sel).First().Text())
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
