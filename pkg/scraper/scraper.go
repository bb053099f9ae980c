package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

// SourceDocument is one successfully acquired source.
type SourceDocument struct {
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	RawContent string   `json:"raw_content"`
	Images     []string `json:"images,omitempty"`
}

// Scraper fetches pages concurrently and extracts their text. PDF links are
// routed through the OCR backend when one is configured.
type Scraper struct {
	client      *http.Client
	ocr         *OCRClient
	logger      *slog.Logger
	timeout     time.Duration
	concurrency int
}

type Options struct {
	OCR         *OCRClient
	Timeout     time.Duration
	Concurrency int
}

func New(logger *slog.Logger, opts Options) *Scraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	return &Scraper{
		client:      &http.Client{Timeout: opts.Timeout},
		ocr:         opts.OCR,
		logger:      logger,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
	}
}

// Scrape fetches all URLs concurrently. A URL that fails is logged and
// dropped; the remaining documents are still returned.
func (s *Scraper) Scrape(ctx context.Context, urls []string) []SourceDocument {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var docs []SourceDocument

	sem := make(chan struct{}, s.concurrency)

	for _, u := range urls {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			doc, err := s.scrapeOne(ctx, target)
			if err != nil {
				s.logger.Warn("Failed to scrape source", "url", target, "error", err)
				return
			}
			mu.Lock()
			docs = append(docs, doc)
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	s.logger.Info("Scraping complete", "requested", len(urls), "acquired", len(docs))
	return docs
}

func (s *Scraper) scrapeOne(ctx context.Context, target string) (SourceDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if isPDF(target) && s.ocr != nil {
		text, err := s.ocr.ExtractPDF(ctx, target)
		if err != nil {
			return SourceDocument{}, err
		}
		return SourceDocument{URL: target, Title: target, RawContent: text}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return SourceDocument{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; report-engine/0.1)")

	resp, err := s.client.Do(req)
	if err != nil {
		return SourceDocument{}, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SourceDocument{}, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") && s.ocr != nil {
		text, err := s.ocr.ExtractPDF(ctx, target)
		if err != nil {
			return SourceDocument{}, err
		}
		return SourceDocument{URL: target, Title: target, RawContent: text}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return SourceDocument{}, fmt.Errorf("failed to read page body: %w", err)
	}

	if !strings.Contains(contentType, "html") {
		return SourceDocument{URL: target, Title: target, RawContent: string(body)}, nil
	}

	title, text, images := extractHTML(string(body), target)
	if strings.TrimSpace(text) == "" {
		return SourceDocument{}, fmt.Errorf("page had no extractable text")
	}
	if title == "" {
		title = target
	}
	return SourceDocument{URL: target, Title: title, RawContent: text, Images: images}, nil
}

func isPDF(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf") ||
		strings.Contains(u.Host+u.Path, "arxiv.org/pdf/")
}

// skipElements never contribute visible text.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"footer":   true,
	"header":   true,
	"aside":    true,
	"form":     true,
}

// extractHTML walks the document tree collecting visible text and image
// sources. Relative image URLs are resolved against the page URL.
func extractHTML(page, pageURL string) (title, text string, images []string) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", "", nil
	}

	base, _ := url.Parse(pageURL)

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skipElements[n.Data] {
				return
			}
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "img":
				if src := resolveAttr(n, "src", base); src != "" {
					images = append(images, src)
				}
			case "p", "div", "li", "br", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
				sb.WriteString("\n")
			}
		case html.TextNode:
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				sb.WriteString(trimmed)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return title, collapseBlankLines(sb.String()), images
}

func resolveAttr(n *html.Node, name string, base *url.URL) string {
	for _, attr := range n.Attr {
		if attr.Key != name {
			continue
		}
		ref, err := url.Parse(strings.TrimSpace(attr.Val))
		if err != nil || ref.String() == "" {
			return ""
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return ""
		}
		return ref.String()
	}
	return ""
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
