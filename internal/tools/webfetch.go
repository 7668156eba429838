package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chromedp/chromedp"

	"github.com/chatforge/backend/pkg/provider/types"
	"github.com/chatforge/backend/pkg/schema"
)

const (
	webFetchJSRenderThreshold = 2048
	webFetchCursorTTL         = 15 * time.Minute
	webFetchCursorCacheSize   = 1024
)

var scriptOnlyBody = regexp.MustCompile(`(?is)<body[^>]*>\s*<script`)

var headingSplit = regexp.MustCompile(`(?m)^#{1,3} `)

var webFetchSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"url":    map[string]interface{}{"type": "string"},
		"cursor": map[string]interface{}{"type": "string", "description": "Continuation cursor from a previous web_fetch call's next_cursor."},
	},
	"required": []interface{}{"url"},
}

// cursorEntry is one cached continuation: the remaining heading-split
// sections of a previously-fetched page (for heading pagination) or the
// next Link: rel=next URL (for cursor pagination).
type cursorEntry struct {
	sections []string
	nextLink string
	expires  time.Time
}

// CursorCache is the LRU, TTL-swept cache of web_fetch continuation
// cursors named in SPEC_FULL.md §4.7 and §9's "Global mutable caches".
// Sweep is intended to run off a cron.Schedule (internal/tools does not
// itself depend on robfig/cron — the sweeper is wired in cmd/chatforge).
type CursorCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, cursorEntry]
}

// NewCursorCache builds a cursor cache bounded to webFetchCursorCacheSize
// entries.
func NewCursorCache() *CursorCache {
	c, _ := lru.New[string, cursorEntry](webFetchCursorCacheSize)
	return &CursorCache{cache: c}
}

func (c *CursorCache) put(token string, e cursorEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(token, e)
}

func (c *CursorCache) take(token string) (cursorEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.cache.Get(token)
	if !ok {
		return cursorEntry{}, false
	}
	if time.Now().After(e.expires) {
		c.cache.Remove(token)
		return cursorEntry{}, false
	}
	return e, true
}

// Sweep removes every expired entry. Called on the robfig/cron schedule
// configured in cmd/chatforge; safe to call concurrently with tool
// executions.
func (c *CursorCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, token := range c.cache.Keys() {
		if e, ok := c.cache.Peek(token); ok && now.After(e.expires) {
			c.cache.Remove(token)
		}
	}
}

// WebFetcher performs the HTTP-then-headless-render fetch. Kept as an
// interface so tests can substitute a fake without a real browser.
type WebFetcher interface {
	FetchHTML(ctx context.Context, url string) (html string, linkNext string, err error)
}

type httpThenChromeFetcher struct {
	client *http.Client
}

// NewWebFetcher builds the default fetcher: a plain HTTP GET, falling
// back to a chromedp-driven headless Chrome render when the response
// looks JS-rendered (non-2xx, or a short body whose <body> is just a
// <script> shell).
func NewWebFetcher() WebFetcher {
	return &httpThenChromeFetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

func (f *httpThenChromeFetcher) FetchHTML(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := f.client.Do(req)
	if err == nil {
		defer resp.Body.Close()
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if readErr == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 && !looksJSRendered(body) {
			return string(body), extractLinkNext(resp.Header.Get("Link")), nil
		}
	}

	html, err := f.renderHeadless(ctx, url)
	if err != nil {
		return "", "", fmt.Errorf("web fetch failed for %q (http and headless render): %w", url, err)
	}
	return html, "", nil
}

func (f *httpThenChromeFetcher) renderHeadless(ctx context.Context, url string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	renderCtx, cancelTimeout := context.WithTimeout(browserCtx, 20*time.Second)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(renderCtx,
		chromedp.Navigate(url),
		chromedp.OuterHTML("html", &html),
	)
	return html, err
}

func looksJSRendered(body []byte) bool {
	if len(body) >= webFetchJSRenderThreshold {
		return false
	}
	return scriptOnlyBody.Match(body)
}

func extractLinkNext(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}
	return ""
}

// NewWebFetchDefinition builds the credential-free web-fetch tool:
// HTML is fetched (with a headless-render fallback), converted to
// Markdown, and paginated heading-by-heading (or by Link: rel=next when
// the source supports it), with continuation cursors held in cache.
func NewWebFetchDefinition(fetcher WebFetcher, cache *CursorCache) Definition {
	return Definition{
		Validator: schema.NewJSONSchema(webFetchSchema),
		Tool: types.Tool{
			Name:        "web_fetch",
			Description: "Fetches a URL, converts it to Markdown, and returns it page by page via an opaque continuation cursor.",
			Parameters:  webFetchSchema,
			Execute: func(ctx context.Context, input map[string]interface{}, _ types.ToolExecutionOptions) (interface{}, error) {
				if cursor, ok := input["cursor"].(string); ok && cursor != "" {
					return continueFetch(ctx, fetcher, cache, cursor)
				}

				url, _ := input["url"].(string)
				if url == "" {
					return nil, fmt.Errorf("web_fetch requires a url")
				}
				html, linkNext, err := fetcher.FetchHTML(ctx, url)
				if err != nil {
					return nil, err
				}
				markdown, err := htmltomarkdown.ConvertString(html)
				if err != nil {
					return nil, fmt.Errorf("markdown conversion failed: %w", err)
				}

				if linkNext != "" {
					token := newCursorToken()
					cache.put(token, cursorEntry{nextLink: linkNext, expires: time.Now().Add(webFetchCursorTTL)})
					return map[string]interface{}{"content": markdown, "next_cursor": token}, nil
				}

				sections := splitByHeading(markdown)
				if len(sections) <= 1 {
					return map[string]interface{}{"content": markdown}, nil
				}
				token := newCursorToken()
				cache.put(token, cursorEntry{sections: sections[1:], expires: time.Now().Add(webFetchCursorTTL)})
				return map[string]interface{}{"content": sections[0], "next_cursor": token}, nil
			},
		},
	}
}

func continueFetch(ctx context.Context, fetcher WebFetcher, cache *CursorCache, token string) (interface{}, error) {
	entry, ok := cache.take(token)
	if !ok {
		return nil, fmt.Errorf("web_fetch cursor %q is unknown or expired", token)
	}

	if entry.nextLink != "" {
		html, linkNext, err := fetcher.FetchHTML(ctx, entry.nextLink)
		if err != nil {
			return nil, err
		}
		markdown, err := htmltomarkdown.ConvertString(html)
		if err != nil {
			return nil, fmt.Errorf("markdown conversion failed: %w", err)
		}
		if linkNext == "" {
			return map[string]interface{}{"content": markdown}, nil
		}
		next := newCursorToken()
		cache.put(next, cursorEntry{nextLink: linkNext, expires: time.Now().Add(webFetchCursorTTL)})
		return map[string]interface{}{"content": markdown, "next_cursor": next}, nil
	}

	if len(entry.sections) == 0 {
		return map[string]interface{}{"content": ""}, nil
	}
	content := entry.sections[0]
	rest := entry.sections[1:]
	if len(rest) == 0 {
		return map[string]interface{}{"content": content}, nil
	}
	next := newCursorToken()
	cache.put(next, cursorEntry{sections: rest, expires: time.Now().Add(webFetchCursorTTL)})
	return map[string]interface{}{"content": content, "next_cursor": next}, nil
}

func splitByHeading(markdown string) []string {
	idx := headingSplit.FindAllStringIndex(markdown, -1)
	if len(idx) == 0 {
		return []string{markdown}
	}
	sections := make([]string, 0, len(idx)+1)
	start := 0
	for _, loc := range idx {
		if loc[0] > start {
			sections = append(sections, markdown[start:loc[0]])
		}
		start = loc[0]
	}
	sections = append(sections, markdown[start:])
	out := sections[:0]
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

var cursorSeq struct {
	mu sync.Mutex
	n  uint64
}

func newCursorToken() string {
	cursorSeq.mu.Lock()
	cursorSeq.n++
	n := cursorSeq.n
	cursorSeq.mu.Unlock()
	return fmt.Sprintf("wf-%d-%d", time.Now().UnixNano(), n)
}
