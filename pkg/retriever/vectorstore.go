package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/report-engine/pkg/embeddings"
	"github.com/mikeboe/report-engine/pkg/vectorstore"
)

// VectorStore searches previously indexed research content in pgvector.
// Chunks beyond maxDistance from the query are dropped rather than ranked.
type VectorStore struct {
	store       *vectorstore.PGVectorStore
	embedder    embeddings.Embedder
	maxDistance float64
	logger      *slog.Logger
}

func NewVectorStore(store *vectorstore.PGVectorStore, embedder embeddings.Embedder, maxDistance float64, logger *slog.Logger) *VectorStore {
	if maxDistance <= 0 {
		maxDistance = 0.65
	}
	return &VectorStore{store: store, embedder: embedder, maxDistance: maxDistance, logger: logger}
}

func (v *VectorStore) Name() string { return "vectorstore" }

// CompleteResults marks stored chunks as full content; the source URL is
// provenance, not something to re-fetch.
func (v *VectorStore) CompleteResults() bool { return true }

func (v *VectorStore) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	queryEmbedding, err := v.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := v.store.DistanceSearch(ctx, queryEmbedding, maxResults, v.maxDistance)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		title, _ := r.Document.Metadata["title"].(string)
		source, _ := r.Document.Metadata["source"].(string)
		out = append(out, SearchResult{
			Title:   title,
			URL:     source,
			Content: r.Document.Content,
		})
	}

	v.logger.Info("Vector store search complete", "query", query, "count", len(out))
	return out, nil
}
