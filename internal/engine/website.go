package engine

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"doc-converter/internal/jobs"
	"doc-converter/internal/transport"
)

// defaultMaxPages bounds a crawl when the caller sets no limit.
const defaultMaxPages = 100

// WebsiteEngine crawls a website and converts each page to Markdown. URLs
// are discovered incrementally from two sources, the sitemap and on-page
// links, so URL counts are emitted as increments for the aggregator to sum.
type WebsiteEngine struct {
	emitter   transport.Emitter
	logger    zerolog.Logger
	client    *http.Client
	userAgent string
	writeFile func(string, []byte, os.FileMode) error
	mkdirAll  func(string, os.FileMode) error
}

// NewWebsiteEngine constructs the production website engine.
func NewWebsiteEngine(emitter transport.Emitter, logger zerolog.Logger) *WebsiteEngine {
	return &WebsiteEngine{
		emitter:   emitter,
		logger:    logger,
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "doc-converter/1.0",
		writeFile: os.WriteFile,
		mkdirAll:  os.MkdirAll,
	}
}

// NewWebsiteEngineForTests constructs an engine with injectable dependencies.
func NewWebsiteEngineForTests(
	emitter transport.Emitter,
	logger zerolog.Logger,
	client *http.Client,
	writeFile func(string, []byte, os.FileMode) error,
	mkdirAll func(string, os.FileMode) error,
) *WebsiteEngine {
	return &WebsiteEngine{
		emitter:   emitter,
		logger:    logger,
		client:    client,
		userAgent: "doc-converter/1.0",
		writeFile: writeFile,
		mkdirAll:  mkdirAll,
	}
}

// Convert crawls the site rooted at the request identifier, writing one
// Markdown file per page and reporting crawl counters on the progress
// channel.
func (w *WebsiteEngine) Convert(ctx context.Context, req jobs.EngineRequest) error {
	base, err := url.Parse(strings.TrimSpace(req.Identifier))
	if err != nil || base.Host == "" {
		return &Error{Stage: "finding_sitemap", Message: fmt.Sprintf("invalid website url: %s", req.Identifier)}
	}

	outputDir := strings.TrimSpace(req.Options.OutputDir)
	if outputDir == "" {
		return &Error{Stage: "finding_sitemap", Message: "output directory is required"}
	}
	if err := w.mkdirAll(outputDir, 0o755); err != nil {
		return &Error{Stage: "finding_sitemap", Message: "cannot create output directory", Err: err}
	}

	maxPages := req.Options.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	userAgent := req.Options.UserAgent
	if userAgent == "" {
		userAgent = w.userAgent
	}

	w.emitter.EmitStatus(transport.StatusEvent{ID: req.JobID, Status: "finding_sitemap", File: req.Identifier})

	queue := []string{base.String()}
	seen := map[string]bool{base.String(): true}

	sitemapURLs := w.fetchSitemap(ctx, base, userAgent, req.JobID)
	fresh := 0
	for _, u := range sitemapURLs {
		if !seen[u] {
			seen[u] = true
			queue = append(queue, u)
			fresh++
		}
	}
	if fresh > 0 {
		w.emitter.EmitProgress(transport.ProgressEvent{ID: req.JobID, SitemapURLs: intPtr(fresh)})
	}

	w.emitter.EmitStatus(transport.StatusEvent{ID: req.JobID, Status: "crawling_pages", File: req.Identifier})

	completed := 0
	errored := 0
	var lastErr error
	for len(queue) > 0 && completed+errored < maxPages {
		if err := ctx.Err(); err != nil {
			return err
		}

		pageURL := queue[0]
		queue = queue[1:]

		w.emitter.EmitProgress(transport.ProgressEvent{
			ID:     req.JobID,
			File:   pageURL,
			Status: "crawling_pages",
		})

		doc, err := w.fetchPage(ctx, pageURL, userAgent)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errored++
			lastErr = err
			w.logger.Warn().Err(err).Str("url", pageURL).Msg("page fetch failed")
			w.emitter.EmitProgress(transport.ProgressEvent{
				ID:        req.JobID,
				File:      pageURL,
				Completed: intPtr(completed),
				Errored:   intPtr(errored),
			})
			continue
		}

		discovered := 0
		for _, link := range extractLinks(doc, base) {
			if !seen[link] {
				seen[link] = true
				queue = append(queue, link)
				discovered++
			}
		}
		if discovered > 0 {
			w.emitter.EmitProgress(transport.ProgressEvent{ID: req.JobID, CrawledURLs: intPtr(discovered)})
		}

		if err := w.writePage(outputDir, pageURL, doc); err != nil {
			errored++
			lastErr = err
			w.logger.Warn().Err(err).Str("url", pageURL).Msg("page write failed")
		} else {
			completed++
		}

		w.emitter.EmitProgress(transport.ProgressEvent{
			ID:        req.JobID,
			File:      pageURL,
			Section:   sectionName(pageURL),
			Completed: intPtr(completed),
			Errored:   intPtr(errored),
		})
	}

	if completed == 0 {
		message := "no pages could be converted"
		if lastErr != nil {
			message = lastErr.Error()
		}
		w.emitter.EmitError(transport.ErrorEvent{ID: req.JobID, Error: message})
		return lastErr
	}

	w.emitter.EmitStatus(transport.StatusEvent{ID: req.JobID, Status: "cleaning_up", File: req.Identifier})
	w.emitter.EmitComplete(transport.CompleteEvent{ID: req.JobID, Result: completed})
	return nil
}

// sitemapIndex is the subset of the sitemap XML schema the crawler reads.
type sitemapIndex struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// fetchSitemap retrieves and parses /sitemap.xml, returning same-host URLs.
// A missing or malformed sitemap is not fatal; the crawl proceeds from
// on-page links alone.
func (w *WebsiteEngine) fetchSitemap(ctx context.Context, base *url.URL, userAgent, jobID string) []string {
	sitemapURL := base.Scheme + "://" + base.Host + "/sitemap.xml"
	body, err := w.get(ctx, sitemapURL, userAgent)
	if err != nil {
		w.logger.Debug().Err(err).Str("url", sitemapURL).Msg("no sitemap")
		return nil
	}

	w.emitter.EmitStatus(transport.StatusEvent{ID: jobID, Status: "parsing_sitemap"})

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err != nil {
		w.logger.Debug().Err(err).Msg("sitemap parse failed")
		return nil
	}

	out := make([]string, 0, len(index.URLs))
	for _, entry := range index.URLs {
		loc, err := url.Parse(strings.TrimSpace(entry.Loc))
		if err != nil || loc.Host != base.Host {
			continue
		}
		loc.Fragment = ""
		out = append(out, loc.String())
	}
	return out
}

// fetchPage retrieves one page and parses it.
func (w *WebsiteEngine) fetchPage(ctx context.Context, pageURL, userAgent string) (*goquery.Document, error) {
	body, err := w.get(ctx, pageURL, userAgent)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}
	return doc, nil
}

// get performs one HTTP GET with the crawl user agent.
func (w *WebsiteEngine) get(ctx context.Context, rawURL, userAgent string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// writePage renders the page to Markdown and stores it under outputDir.
func (w *WebsiteEngine) writePage(outputDir, pageURL string, doc *goquery.Document) error {
	markdown := pageMarkdown(doc, pageURL)
	outPath := filepath.Join(outputDir, markdownPathFor(pageURL))
	if err := w.mkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create page directory: %w", err)
	}
	if err := w.writeFile(outPath, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("write page %s: %w", outPath, err)
	}
	return nil
}

// extractLinks collects same-host links from anchors, dropping fragments.
func extractLinks(doc *goquery.Document, base *url.URL) []string {
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		link, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		if link.Host != base.Host || (link.Scheme != "http" && link.Scheme != "https") {
			return
		}
		link.Fragment = ""
		out = append(out, link.String())
	})
	return out
}

// pageMarkdown renders a minimal Markdown view of the page: the title as a
// top heading, then headings, paragraphs, and list items in document order.
func pageMarkdown(doc *goquery.Document, pageURL string) string {
	var b strings.Builder

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = pageURL
	}
	b.WriteString("# " + title + "\n\n")
	b.WriteString("<!-- source: " + pageURL + " -->\n\n")

	doc.Find("h1, h2, h3, p, li").Each(func(_ int, sel *goquery.Selection) {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" {
			return
		}
		switch goquery.NodeName(sel) {
		case "h1":
			b.WriteString("# " + text + "\n\n")
		case "h2":
			b.WriteString("## " + text + "\n\n")
		case "h3":
			b.WriteString("### " + text + "\n\n")
		case "li":
			b.WriteString("- " + text + "\n")
		default:
			b.WriteString(text + "\n\n")
		}
	})

	return b.String()
}

// sectionName maps a page URL to its site section: the first path segment,
// or "root" for the front page.
func sectionName(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "root"
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return "root"
	}
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// markdownPathFor maps a page URL to a relative output file path.
func markdownPathFor(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "page.md"
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		p = "index"
	}
	p = strings.TrimSuffix(p, path.Ext(p))
	return filepath.Join(u.Host, filepath.FromSlash(p)+".md")
}
