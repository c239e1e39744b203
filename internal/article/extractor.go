// Package article extracts readable text from web pages. Readability is the
// primary extractor; a paragraph-scraping fallback covers pages it cannot
// parse.
package article

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
	defaultTimeout   = 30 * time.Second

	// Below this many characters the readability result is treated as a
	// failed parse and the fallback runs instead.
	minContentLength = 100

	maxResponseBytes = 10 << 20
)

var (
	// ErrInvalidURL marks client-side URL problems.
	ErrInvalidURL = errors.New("invalid article url")
	// ErrFetchFailed marks network-level failures reaching the page.
	ErrFetchFailed = errors.New("article fetch failed")
	// ErrExtractionFailed means the page yielded no usable text.
	ErrExtractionFailed = errors.New("article extraction failed")
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Article is the extracted content of a page.
type Article struct {
	Title       string
	Content     string
	Author      string
	PublishDate string
	SourceURL   string
	WordCount   int
}

// Extractor fetches and extracts articles.
type Extractor struct {
	httpClient *http.Client
	userAgent  string
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithHTTPClient overrides the fetching client.
func WithHTTPClient(httpClient *http.Client) ExtractorOption {
	return func(extractor *Extractor) {
		extractor.httpClient = httpClient
	}
}

// NewExtractor builds an Extractor with a browser User-Agent.
func NewExtractor(options ...ExtractorOption) *Extractor {
	extractor := &Extractor{
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  defaultUserAgent,
	}
	for _, option := range options {
		if option != nil {
			option(extractor)
		}
	}
	return extractor
}

// Extract downloads the page and extracts its article text.
func (extractor *Extractor) Extract(ctx context.Context, rawURL string) (Article, error) {
	pageURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") || pageURL.Host == "" {
		return Article{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	body, err := extractor.fetch(ctx, pageURL)
	if err != nil {
		return Article{}, err
	}

	if extracted, ok := extractor.extractReadable(body, pageURL); ok {
		return extracted, nil
	}
	return extractor.extractFallback(body, pageURL)
}

func (extractor *Extractor) fetch(ctx context.Context, pageURL *url.URL) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	request.Header.Set("User-Agent", extractor.userAgent)

	response, err := extractor.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, response.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return body, nil
}

func (extractor *Extractor) extractReadable(body []byte, pageURL *url.URL) (Article, bool) {
	parsed, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return Article{}, false
	}
	text := normalizeWhitespace(parsed.TextContent)
	if len(text) < minContentLength {
		return Article{}, false
	}

	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = "Untitled"
	}
	publishDate := ""
	if parsed.PublishedTime != nil {
		publishDate = parsed.PublishedTime.Format(time.RFC3339)
	}
	return Article{
		Title:       title,
		Content:     text,
		Author:      strings.TrimSpace(parsed.Byline),
		PublishDate: publishDate,
		SourceURL:   pageURL.String(),
		WordCount:   len(strings.Fields(text)),
	}, true
}

func (extractor *Extractor) extractFallback(body []byte, pageURL *url.URL) (Article, error) {
	document, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Article{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	paragraphs := make([]string, 0, 16)
	document.Find("p").Each(func(_ int, selection *goquery.Selection) {
		text := normalizeWhitespace(selection.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	content := strings.Join(paragraphs, " ")
	if content == "" {
		return Article{}, fmt.Errorf("%w: no paragraph text found", ErrExtractionFailed)
	}

	title := normalizeWhitespace(document.Find("title").First().Text())
	if ogTitle, exists := document.Find(`meta[property="og:title"]`).Attr("content"); exists && strings.TrimSpace(ogTitle) != "" {
		title = normalizeWhitespace(ogTitle)
	}
	if title == "" {
		title = "Untitled"
	}
	return Article{
		Title:     title,
		Content:   content,
		SourceURL: pageURL.String(),
		WordCount: len(strings.Fields(content)),
	}, nil
}

func normalizeWhitespace(raw string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
}
