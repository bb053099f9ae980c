package retriever

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LocalDocs serves documents from a directory on disk. Matching is a simple
// case-insensitive term scan; ranking is hit count.
type LocalDocs struct {
	root   string
	logger *slog.Logger
}

func NewLocalDocs(root string, logger *slog.Logger) *LocalDocs {
	return &LocalDocs{root: root, logger: logger}
}

func (d *LocalDocs) Name() string { return "docs" }

func (d *LocalDocs) CompleteResults() bool { return true }

var textExtensions = map[string]bool{
	".md":  true,
	".txt": true,
	".csv": true,
}

func (d *LocalDocs) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	terms := strings.Fields(strings.ToLower(query))

	type scored struct {
		result SearchResult
		hits   int
	}
	var candidates []scored

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !textExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			d.logger.Warn("Failed to read document", "path", path, "error", err)
			return nil
		}

		content := string(data)
		lower := strings.ToLower(content)
		hits := 0
		for _, term := range terms {
			hits += strings.Count(lower, term)
		}
		if len(terms) > 0 && hits == 0 {
			return nil
		}

		candidates = append(candidates, scored{
			result: SearchResult{
				Title:   filepath.Base(path),
				URL:     "file://" + path,
				Content: content,
			},
			hits: hits,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Highest hit count first; insertion sort is fine at this scale.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].hits > candidates[j-1].hits; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	out := make([]SearchResult, 0, maxResults)
	for _, c := range candidates {
		out = append(out, c.result)
		if len(out) >= maxResults {
			break
		}
	}
	return out, nil
}

// OnlineDocs wraps a fixed set of user-supplied document URLs. The scraper
// does the fetching; this backend only surfaces the URLs as results.
type OnlineDocs struct {
	urls []string
}

func NewOnlineDocs(urls []string) *OnlineDocs {
	return &OnlineDocs{urls: urls}
}

func (d *OnlineDocs) Name() string { return "online_docs" }

func (d *OnlineDocs) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	out := make([]SearchResult, 0, len(d.urls))
	for _, u := range d.urls {
		out = append(out, SearchResult{Title: u, URL: u})
	}
	return out, nil
}
