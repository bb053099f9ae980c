package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mikeboe/report-engine/pkg/config"
	"github.com/mikeboe/report-engine/pkg/embeddings"
	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/types"
	"github.com/mikeboe/report-engine/pkg/vectorstore"
)

// ErrNoRetrievers is returned when a configuration names no usable search
// backend.
var ErrNoRetrievers = errors.New("no retrievers configured")

// SearchResult is the normalized record every backend returns.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Retriever is implemented by every search backend. A failing backend
// returns an error and contributes zero results; it never aborts the
// retrieval fan-out.
type Retriever interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// BuildOptions carries the shared dependencies backends may need.
type BuildOptions struct {
	LLM      *llm.Client
	Store    *vectorstore.PGVectorStore
	Embedder embeddings.Embedder
	Cost     llm.CostCallback
	Logger   *slog.Logger
}

// Build instantiates the retrievers named in the configuration, plus an MCP
// retriever when tool servers are configured.
func Build(cfg *config.Config, opts BuildOptions) ([]Retriever, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var out []Retriever
	for _, name := range cfg.Retrievers {
		switch name {
		case "arxiv":
			out = append(out, NewArxiv(logger))
		case "searx":
			if cfg.SearxURL == "" {
				return nil, fmt.Errorf("retriever %q requires searx_url", name)
			}
			out = append(out, NewSearx(cfg.SearxURL, logger))
		case "docs":
			if cfg.DocumentPath == "" {
				return nil, fmt.Errorf("retriever %q requires document_path", name)
			}
			out = append(out, NewLocalDocs(cfg.DocumentPath, logger))
		case "online_docs":
			if len(cfg.DocumentURLs) == 0 {
				return nil, fmt.Errorf("retriever %q requires document_urls", name)
			}
			out = append(out, NewOnlineDocs(cfg.DocumentURLs))
		case "vectorstore":
			if opts.Store == nil || opts.Embedder == nil {
				return nil, fmt.Errorf("retriever %q requires a vector store and embedder", name)
			}
			out = append(out, NewVectorStore(opts.Store, opts.Embedder, cfg.DistanceThreshold, logger))
		default:
			return nil, fmt.Errorf("unknown retriever: %s", name)
		}
	}

	if len(cfg.MCPServers) > 0 {
		if opts.LLM == nil {
			return nil, fmt.Errorf("mcp retriever requires an LLM client")
		}
		out = append(out, NewMCP(cfg.MCPServers, opts.LLM, opts.Cost, logger))
	}

	if len(out) == 0 {
		return nil, ErrNoRetrievers
	}
	return out, nil
}

// CompleteResults reports whether a backend's results already carry the full
// source content, so the scraper can be skipped even for http URLs.
func CompleteResults(r Retriever) bool {
	c, ok := r.(interface{ CompleteResults() bool })
	return ok && c.CompleteResults()
}

// FilterBySource narrows the backend set to the requested report source.
// Hybrid (or an unset source) keeps everything.
func FilterBySource(retrievers []Retriever, source types.ReportSource) []Retriever {
	keep := func(r Retriever) bool {
		switch source {
		case types.SourceWeb:
			return r.Name() != "docs" && r.Name() != "vectorstore"
		case types.SourceLocal:
			return r.Name() == "docs"
		case types.SourceVectorStore:
			return r.Name() == "vectorstore"
		default:
			return true
		}
	}

	var out []Retriever
	for _, r := range retrievers {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// ToolOnly reports whether every retriever is a tool-protocol backend, in
// which case query decomposition is skipped.
func ToolOnly(retrievers []Retriever) bool {
	if len(retrievers) == 0 {
		return false
	}
	for _, r := range retrievers {
		if r.Name() != "mcp" {
			return false
		}
	}
	return true
}
