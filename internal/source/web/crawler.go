package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"news_narrator/internal/domain"
)

const untitled = "Untitled"

type Config struct {
	Timeout        time.Duration
	UserAgent      string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Crawler extracts articles from an index page and the article pages it
// links to.
type Crawler struct {
	httpClient     *http.Client
	userAgent      string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Crawler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Crawler{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		userAgent:      cfg.UserAgent,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "crawler"),
	}
}

// Crawl returns up to maxArticles articles reachable from pageURL. A page
// without article links is treated as an article itself. Articles whose page
// cannot be fetched or has no text are skipped.
func (c *Crawler) Crawl(ctx context.Context, pageURL string, maxArticles int) ([]domain.Crawled, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	index, err := c.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	links := articleLinks(index, base, maxArticles)
	c.logger.Debug("found article links", "url", pageURL, "links", len(links))

	if len(links) == 0 {
		if a, ok := extractArticle(index, pageURL); ok {
			return []domain.Crawled{a}, nil
		}
		return nil, nil
	}

	articles := make([]domain.Crawled, 0, len(links))
	for _, link := range links {
		doc, err := c.fetchDocument(ctx, link)
		if err != nil {
			if ctx.Err() != nil {
				return articles, ctx.Err()
			}
			c.logger.Warn("skipping article", "url", link, "error", err)
			continue
		}
		a, ok := extractArticle(doc, link)
		if !ok {
			c.logger.Debug("no article content", "url", link)
			continue
		}
		articles = append(articles, a)
	}
	return articles, nil
}

func (c *Crawler) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var doc *goquery.Document
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		doc, err = c.doRequest(ctx, pageURL)
		if err == nil {
			return doc, nil
		}

		if attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("request failed, retrying",
			"url", pageURL,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("fetch %s after %d attempts: %w", pageURL, c.maxAttempts, err)
}

func (c *Crawler) doRequest(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func (c *Crawler) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}

var (
	excludedLink = regexp.MustCompile(`(?i)^#|^javascript:|^mailto:|^/$|/tag/|/category/|/author/|/search`)
	articleLink  = regexp.MustCompile(`(?i)/article/|/news/|/story/|/\d{4}/\d{2}/|/[a-z]+-[a-z]+`)
	navigation   = regexp.MustCompile(`(?i)home|about|contact`)
)

// articleLinks collects distinct absolute links that look like articles, in
// document order.
func articleLinks(doc *goquery.Document, base *url.URL, limit int) []string {
	var links []string
	seen := map[string]struct{}{}

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if !isArticleLink(href, strings.TrimSpace(s.Text())) {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}
		abs.Fragment = ""

		link := abs.String()
		if _, ok := seen[link]; ok || link == base.String() {
			return true
		}
		seen[link] = struct{}{}
		links = append(links, link)
		return limit <= 0 || len(links) < limit
	})
	return links
}

func isArticleLink(href, text string) bool {
	if href == "" || excludedLink.MatchString(href) {
		return false
	}
	if articleLink.MatchString(href) {
		return true
	}
	return len([]rune(text)) > 20 && !navigation.MatchString(href)
}
