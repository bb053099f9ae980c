package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Searx queries a SearxNG instance's JSON API for general web search.
type Searx struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewSearx(baseURL string, logger *slog.Logger) *Searx {
	return &Searx{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (s *Searx) Name() string { return "searx" }

type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *Searx) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("q", query)
	params.Add("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query searx: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("searx returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode searx response: %w", err)
	}

	results := make([]SearchResult, 0, maxResults)
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Content: r.Content})
		if len(results) >= maxResults {
			break
		}
	}

	s.logger.Info("Searx search complete", "query", query, "count", len(results))
	return results, nil
}
