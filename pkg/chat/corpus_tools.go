package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/mikeboe/report-engine/pkg/config"
	"github.com/mikeboe/report-engine/pkg/database"
	"github.com/mikeboe/report-engine/pkg/embeddings"
	"github.com/mikeboe/report-engine/pkg/vectorstore"
)

// CorpusToolset exposes the indexed report sources to the chat agent:
// semantic search, per-source lookup and metadata filtering.
type CorpusToolset struct {
	DB       *database.PostgresDB
	Embedder embeddings.Embedder
	config   *config.Config
}

func NewCorpusToolset(db *database.PostgresDB, embedder embeddings.Embedder, config *config.Config) *CorpusToolset {
	return &CorpusToolset{
		DB:       db,
		Embedder: embedder,
		config:   config,
	}
}

func (t *CorpusToolset) Name() string {
	return "corpus_tools"
}

func (t *CorpusToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchSourcesArgs, SearchSourcesResp](
		functiontool.Config{
			Name:        "search_sources",
			Description: "Semantic search over the sources gathered for past reports.",
		},
		t.searchSourcesTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	sourceTool, err := functiontool.New[SourceContentArgs, SourceContentResp](
		functiontool.Config{
			Name:        "get_source_content",
			Description: "Fetch everything indexed from one source URL.",
		},
		t.sourceContentTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create source tool: %w", err)
	}

	filterTool, err := functiontool.New[FilterSourcesArgs, FilterSourcesResp](
		functiontool.Config{
			Name:        "filter_sources",
			Description: "Find sources via logical metadata filters ($and, $or, $not).",
		},
		t.filterSourcesTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter tool: %w", err)
	}

	return []tool.Tool{searchTool, sourceTool, filterTool}, nil
}

type SearchSourcesArgs struct {
	Query  string `json:"query" description:"The search query"`
	TopK   int    `json:"topK,omitempty" description:"Number of results to return (default 5)"`
	Source string `json:"source,omitempty" description:"Optional source URL filter"`
}

type SearchSourcesResp struct {
	Results string `json:"results"`
}

func (t *CorpusToolset) searchSourcesTool(ctx tool.Context, args SearchSourcesArgs) (SearchSourcesResp, error) {
	return t.SearchSources(ctx, args)
}

func (t *CorpusToolset) SearchSources(ctx context.Context, args SearchSourcesArgs) (SearchSourcesResp, error) {
	if args.TopK == 0 {
		args.TopK = 5
	}

	slog.Info("Corpus search", "query", args.Query, "topK", args.TopK, "source", args.Source)

	queryEmbedding, err := t.Embedder.EmbedText(ctx, args.Query)
	if err != nil {
		return SearchSourcesResp{}, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	store, err := vectorstore.NewPGVectorStore(t.DB.Pool, t.config.CollectionName)
	if err != nil {
		return SearchSourcesResp{}, fmt.Errorf("invalid collection name: %w", err)
	}

	results, err := store.SimilaritySearch(ctx, queryEmbedding, args.TopK, args.Source)
	if err != nil {
		return SearchSourcesResp{}, fmt.Errorf("failed to search: %w", err)
	}

	var blocks []string
	for _, result := range results {
		source := "unknown"
		if s, ok := result.Document.Metadata["source"].(string); ok {
			source = s
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "[Source]: %s\n[Content]: %s", source, result.Document.Content)
		for k, v := range result.Document.Metadata {
			if k == "source" {
				continue
			}
			fmt.Fprintf(&sb, "\n[%s]: %v", k, v)
		}
		blocks = append(blocks, sb.String())
	}

	return SearchSourcesResp{Results: strings.Join(blocks, "\n\n")}, nil
}

type SourceContentArgs struct {
	Source string `json:"source" description:"The source URL to fetch content for"`
}

type SourceContentResp struct {
	Content string `json:"content"`
}

func (t *CorpusToolset) sourceContentTool(ctx tool.Context, args SourceContentArgs) (SourceContentResp, error) {
	return t.SourceContent(ctx, args)
}

func (t *CorpusToolset) SourceContent(ctx context.Context, args SourceContentArgs) (SourceContentResp, error) {
	store, err := vectorstore.NewPGVectorStore(t.DB.Pool, t.config.CollectionName)
	if err != nil {
		return SourceContentResp{}, fmt.Errorf("invalid collection name: %w", err)
	}

	docs, err := store.GetContentBySource(ctx, args.Source)
	if err != nil {
		return SourceContentResp{}, fmt.Errorf("failed to fetch source content: %w", err)
	}

	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, doc.Content)
	}
	return SourceContentResp{Content: strings.Join(parts, "\n\n")}, nil
}

type FilterSourcesArgs struct {
	Filter map[string]interface{} `json:"filter" description:"JSON filter object with logical operators ($and, $or, $not)"`
}

type FilterSourcesResp struct {
	Content string `json:"content"`
}

func (t *CorpusToolset) filterSourcesTool(ctx tool.Context, args FilterSourcesArgs) (FilterSourcesResp, error) {
	return t.FilterSources(ctx, args)
}

func (t *CorpusToolset) FilterSources(ctx context.Context, args FilterSourcesArgs) (FilterSourcesResp, error) {
	store, err := vectorstore.NewPGVectorStore(t.DB.Pool, t.config.CollectionName)
	if err != nil {
		return FilterSourcesResp{}, fmt.Errorf("invalid collection name: %w", err)
	}

	docs, err := store.GetContentByMetadata(ctx, args.Filter)
	if err != nil {
		return FilterSourcesResp{}, fmt.Errorf("failed to filter sources: %w", err)
	}

	var blocks []string
	for _, doc := range docs {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[Content]: %s", doc.Content)
		for k, v := range doc.Metadata {
			fmt.Fprintf(&sb, "\n[%s]: %v", k, v)
		}
		blocks = append(blocks, sb.String())
	}
	return FilterSourcesResp{Content: strings.Join(blocks, "\n\n")}, nil
}
