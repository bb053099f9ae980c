package retriever

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const arxivBaseURL = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// Arxiv queries the arXiv Atom API.
type Arxiv struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewArxiv(logger *slog.Logger) *Arxiv {
	return &Arxiv{
		baseURL: arxivBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (a *Arxiv) Name() string { return "arxiv" }

// Search returns paper results; the URL points at the PDF when one is linked.
func (a *Arxiv) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("search_query", query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned non-200 status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	results := make([]SearchResult, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}

		pdfLink := ""
		for _, link := range entry.Link {
			if link.Type == "application/pdf" {
				pdfLink = link.Href
				break
			}
		}

		results = append(results, SearchResult{
			Title:   title,
			URL:     pdfLink,
			Content: strings.TrimSpace(entry.Summary),
		})
	}

	a.logger.Info("arXiv search complete", "query", query, "count", len(results))
	return results, nil
}
