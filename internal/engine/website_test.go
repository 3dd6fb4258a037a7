package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"doc-converter/internal/jobs"
	"doc-converter/internal/logging"
)

// capturedWrites records writeFile calls keyed by path.
type capturedWrites struct {
	mu    sync.Mutex
	files map[string]string
}

func newCapturedWrites() *capturedWrites {
	return &capturedWrites{files: make(map[string]string)}
}

func (c *capturedWrites) write(path string, data []byte, _ os.FileMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[path] = string(data)
	return nil
}

func newCrawlSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<urlset>
  <url><loc>%s/docs/install</loc></url>
  <url><loc>%s/docs/usage</loc></url>
  <url><loc>https://other.example/ignored</loc></url>
</urlset>`, server.URL, server.URL)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><head><title>Example Docs</title></head>
<body><h1>Example</h1><p>Welcome.</p>
<a href="/docs/install">Install</a>
<a href="/blog/launch">Launch</a>
<a href="https://elsewhere.example/x">Off-site</a>
<a href="/docs/install#anchor">Install again</a>
</body></html>`)
	})
	mux.HandleFunc("/docs/install", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Install</title></head><body><h2>Steps</h2><li>Download</li><li>Run</li></body></html>`)
	})
	mux.HandleFunc("/docs/usage", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Usage</title></head><body><p>Use it.</p></body></html>`)
	})
	mux.HandleFunc("/blog/launch", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Launch</title></head><body><p>We launched.</p></body></html>`)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// TestWebsiteEngineCrawl checks sitemap plus link discovery, per-page
// Markdown output, section names, and the terminal complete event.
func TestWebsiteEngineCrawl(t *testing.T) {
	server := newCrawlSite(t)
	emitter := &recordingEmitter{}
	writes := newCapturedWrites()
	engine := NewWebsiteEngineForTests(emitter, logging.Nop(), server.Client(), writes.write, mkdirOK)

	req := jobs.EngineRequest{
		JobID:      "job-1",
		Identifier: server.URL,
		Options:    jobs.ConvertOptions{OutputDir: "/out", MaxPages: 10},
	}
	if err := engine.Convert(context.Background(), req); err != nil {
		t.Fatalf("Convert: %v", err)
	}

	if len(emitter.complete) != 1 {
		t.Fatalf("complete events = %+v", emitter.complete)
	}
	if got := emitter.complete[0].Result; got != 4 {
		t.Fatalf("converted pages = %v, want 4", got)
	}

	// Sitemap contributed two same-host URLs, link crawling one more.
	var sitemap, crawled int
	sections := map[string]int{}
	for _, e := range emitter.progress {
		if e.SitemapURLs != nil {
			sitemap += *e.SitemapURLs
		}
		if e.CrawledURLs != nil {
			crawled += *e.CrawledURLs
		}
		if e.Section != "" {
			sections[e.Section]++
		}
	}
	if sitemap != 2 {
		t.Fatalf("sitemap urls = %d, want 2", sitemap)
	}
	if crawled != 1 {
		t.Fatalf("crawled urls = %d, want 1", crawled)
	}
	if sections["docs"] != 2 || sections["blog"] != 1 || sections["root"] != 1 {
		t.Fatalf("sections = %v", sections)
	}

	host := strings.TrimPrefix(server.URL, "http://")
	want := filepath.Join("/out", host, "docs", "install.md")
	content, ok := writes.files[want]
	if !ok {
		t.Fatalf("missing output %s, wrote %v", want, writes.files)
	}
	if !strings.Contains(content, "# Install") || !strings.Contains(content, "- Download") {
		t.Fatalf("install.md = %q", content)
	}

	var statuses []string
	for _, e := range emitter.status {
		statuses = append(statuses, e.Status)
	}
	joined := strings.Join(statuses, ",")
	for _, wantStatus := range []string{"finding_sitemap", "parsing_sitemap", "crawling_pages", "cleaning_up"} {
		if !strings.Contains(joined, wantStatus) {
			t.Fatalf("statuses = %v, missing %s", statuses, wantStatus)
		}
	}
}

// TestWebsiteEngineRespectsPageLimit checks the crawl stops at MaxPages.
func TestWebsiteEngineRespectsPageLimit(t *testing.T) {
	server := newCrawlSite(t)
	emitter := &recordingEmitter{}
	writes := newCapturedWrites()
	engine := NewWebsiteEngineForTests(emitter, logging.Nop(), server.Client(), writes.write, mkdirOK)

	req := jobs.EngineRequest{
		JobID:      "job-1",
		Identifier: server.URL,
		Options:    jobs.ConvertOptions{OutputDir: "/out", MaxPages: 2},
	}
	if err := engine.Convert(context.Background(), req); err != nil {
		t.Fatalf("Convert: %v", err)
	}

	if got := len(writes.files); got != 2 {
		t.Fatalf("pages written = %d, want 2", got)
	}
}

// TestWebsiteEngineNoSitemap checks a 404 sitemap is non-fatal and the crawl
// proceeds from on-page links.
func TestWebsiteEngineNoSitemap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head><title>Lonely</title></head><body><p>Just me.</p></body></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	emitter := &recordingEmitter{}
	writes := newCapturedWrites()
	engine := NewWebsiteEngineForTests(emitter, logging.Nop(), server.Client(), writes.write, mkdirOK)

	req := jobs.EngineRequest{
		JobID:      "job-1",
		Identifier: server.URL,
		Options:    jobs.ConvertOptions{OutputDir: "/out"},
	}
	if err := engine.Convert(context.Background(), req); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(writes.files) != 1 {
		t.Fatalf("pages written = %d, want 1", len(writes.files))
	}
	for _, e := range emitter.progress {
		if e.SitemapURLs != nil {
			t.Fatalf("unexpected sitemap count: %+v", e)
		}
	}
}

// TestWebsiteEngineAllPagesFailEmitsError checks a site where every fetch
// fails terminates on the error channel.
func TestWebsiteEngineAllPagesFailEmitsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	emitter := &recordingEmitter{}
	engine := NewWebsiteEngineForTests(emitter, logging.Nop(), server.Client(), newCapturedWrites().write, mkdirOK)

	req := jobs.EngineRequest{
		JobID:      "job-1",
		Identifier: server.URL,
		Options:    jobs.ConvertOptions{OutputDir: "/out"},
	}
	if err := engine.Convert(context.Background(), req); err == nil {
		t.Fatal("expected crawl error")
	}
	if len(emitter.errs) != 1 || emitter.errs[0].ID != "job-1" {
		t.Fatalf("error events = %+v", emitter.errs)
	}
	if len(emitter.complete) != 0 {
		t.Fatalf("complete events = %+v", emitter.complete)
	}
}

// TestWebsiteEngineInvalidURL checks malformed identifiers fail fast.
func TestWebsiteEngineInvalidURL(t *testing.T) {
	engine := NewWebsiteEngineForTests(&recordingEmitter{}, logging.Nop(), http.DefaultClient, newCapturedWrites().write, mkdirOK)

	req := jobs.EngineRequest{
		JobID:      "job-1",
		Identifier: "not a url",
		Options:    jobs.ConvertOptions{OutputDir: "/out"},
	}
	if err := engine.Convert(context.Background(), req); err == nil {
		t.Fatal("expected invalid url error")
	}
}

// TestSectionName covers the first-path-segment rule.
func TestSectionName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/", "root"},
		{"https://example.com/docs", "docs"},
		{"https://example.com/docs/install", "docs"},
		{"https://example.com/blog/2026/post", "blog"},
	}
	for _, tt := range tests {
		if got := sectionName(tt.url); got != tt.want {
			t.Fatalf("sectionName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

// TestMarkdownPathFor covers host-scoped output paths.
func TestMarkdownPathFor(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/", filepath.Join("example.com", "index.md")},
		{"https://example.com/docs/install", filepath.Join("example.com", "docs", "install.md")},
		{"https://example.com/page.html", filepath.Join("example.com", "page.md")},
	}
	for _, tt := range tests {
		if got := markdownPathFor(tt.url); got != tt.want {
			t.Fatalf("markdownPathFor(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
