package compressor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/mikeboe/report-engine/pkg/embeddings"
	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/scraper"
	"github.com/mikeboe/report-engine/pkg/splitter"
)

// Compressor reduces scraped source documents to the chunks most relevant to
// a query. Documents are split, embedded alongside the query, filtered by
// cosine similarity, and concatenated best-first under a token budget.
type Compressor struct {
	embedder  embeddings.Embedder
	splitter  *splitter.TextSplitter
	logger    *slog.Logger
	threshold float64
	maxTokens int
}

type Options struct {
	ChunkSize           int
	ChunkOverlap        int
	SimilarityThreshold float64
	MaxTokens           int
}

func New(embedder embeddings.Embedder, logger *slog.Logger, opts Options) *Compressor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize / 5
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.35
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8000
	}
	return &Compressor{
		embedder:  embedder,
		splitter:  splitter.NewRecursiveCharacterTextSplitter(opts.ChunkSize, opts.ChunkOverlap),
		logger:    logger,
		threshold: opts.SimilarityThreshold,
		maxTokens: opts.MaxTokens,
	}
}

type chunk struct {
	doc   scraper.SourceDocument
	text  string
	score float64
}

// Compress returns the most relevant chunks across all documents as a single
// annotated context string. An empty string means nothing cleared the
// similarity threshold.
func (c *Compressor) Compress(ctx context.Context, query string, docs []scraper.SourceDocument) (string, error) {
	var chunks []chunk
	for _, doc := range docs {
		parts, err := c.splitter.SplitText(doc.RawContent)
		if err != nil {
			c.logger.Warn("Failed to split document", "url", doc.URL, "error", err)
			continue
		}
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			chunks = append(chunks, chunk{doc: doc, text: part})
		}
	}
	if len(chunks) == 0 {
		return "", nil
	}

	queryEmb, err := c.embedder.EmbedText(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to embed query: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.text
	}
	chunkEmbs, err := c.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return "", fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(chunkEmbs) != len(chunks) {
		return "", fmt.Errorf("embedder returned %d vectors for %d chunks", len(chunkEmbs), len(chunks))
	}

	kept := chunks[:0]
	for i, ch := range chunks {
		ch.score = CosineSimilarity(queryEmb, chunkEmbs[i])
		if ch.score >= c.threshold {
			kept = append(kept, ch)
		}
	}
	c.logger.Info("Compressed context", "query", query, "chunks", len(texts), "kept", len(kept))
	if len(kept) == 0 {
		return "", nil
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })

	var sb strings.Builder
	used := 0
	for _, ch := range kept {
		block := fmt.Sprintf("Source: %s (%s)\n%s\n\n", ch.doc.Title, ch.doc.URL, ch.text)
		cost := llm.EstimateTokens(block)
		if used+cost > c.maxTokens {
			break
		}
		sb.WriteString(block)
		used += cost
	}
	return strings.TrimSpace(sb.String()), nil
}

// CosineSimilarity is in [-1, 1]; zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
