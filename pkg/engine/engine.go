package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/report-engine/pkg/compressor"
	"github.com/mikeboe/report-engine/pkg/config"
	"github.com/mikeboe/report-engine/pkg/curator"
	"github.com/mikeboe/report-engine/pkg/database"
	"github.com/mikeboe/report-engine/pkg/embeddings"
	"github.com/mikeboe/report-engine/pkg/indexer"
	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/orchestrator"
	"github.com/mikeboe/report-engine/pkg/planner"
	"github.com/mikeboe/report-engine/pkg/retriever"
	"github.com/mikeboe/report-engine/pkg/scraper"
	"github.com/mikeboe/report-engine/pkg/types"
	"github.com/mikeboe/report-engine/pkg/vectorstore"
	"github.com/mikeboe/report-engine/pkg/writer"

	"github.com/mikeboe/report-engine/pkg/clients"
)

// Engine assembles all report stages from configuration and runs
// orchestrations. The database is optional; without it the vectorstore
// retriever is unavailable.
type Engine struct {
	cfg *config.Config
	db  *database.PostgresDB

	Logger        *slog.Logger
	OnStateUpdate func(orchestrator.Phase)
	Stream        func(chunk string)
}

// RunOptions are the per-run knobs on top of the static configuration.
type RunOptions struct {
	ReportType types.ReportType
	Tone       types.Tone
	Source     types.ReportSource
	SourceURLs []string
	Subtopics  []string
}

func New(cfg *config.Config, db *database.PostgresDB) *Engine {
	return &Engine{cfg: cfg, db: db, Logger: slog.Default()}
}

// Run generates one report for the given query.
func (e *Engine) Run(ctx context.Context, query string, opts RunOptions) (*orchestrator.Report, error) {
	providers, err := e.buildProviders(ctx)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewClient(providers, e.cfg.RetryAttempts, e.Logger)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewGoogleEmbedder(ctx, e.cfg.EmbeddingModel, e.cfg.GoogleApiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	ledger := llm.NewCostLedger()
	cost := ledger.Callback()

	var store *vectorstore.PGVectorStore
	if e.db != nil {
		store, err = vectorstore.NewPGVectorStore(e.db.Pool, e.cfg.CollectionName)
		if err != nil {
			return nil, err
		}
	}

	retrievers, err := retriever.Build(e.cfg, retriever.BuildOptions{
		LLM:      client,
		Store:    store,
		Embedder: embedder,
		Cost:     cost,
		Logger:   e.Logger,
	})
	if err != nil {
		if len(opts.SourceURLs) == 0 {
			return nil, err
		}
		e.Logger.Warn("No retrievers available, researching source URLs only", "error", err)
		retrievers = nil
	}
	retrievers = retriever.FilterBySource(retrievers, opts.Source)

	var ocr *scraper.OCRClient
	if e.cfg.MistralApiKey != "" {
		ocr = scraper.NewOCRClient(e.cfg.MistralApiKey)
	}

	var idx orchestrator.SourceIndexer
	if store != nil {
		idx = indexer.New(store, embedder, e.cfg.ChunkSize, e.cfg.ChunkOverlap, e.Logger)
	}

	deps := orchestrator.Deps{
		Planner: planner.New(client, e.Logger, cost),
		Scraper: scraper.New(e.Logger, scraper.Options{
			OCR:         ocr,
			Timeout:     e.cfg.ScrapeTimeout,
			Concurrency: e.cfg.MaxConcurrency,
		}),
		Compressor: compressor.New(embedder, e.Logger, compressor.Options{
			ChunkSize:           e.cfg.ChunkSize,
			ChunkOverlap:        e.cfg.ChunkOverlap,
			SimilarityThreshold: e.cfg.SimilarityThreshold,
		}),
		Curator: curator.New(client, cost, e.Logger),
		Indexer: idx,
		Written: compressor.NewWrittenContentCompressor(embedder, e.Logger, e.cfg.DistanceThreshold),
		Writer: writer.New(client, e.Logger, writer.Options{
			Cost:            cost,
			Stream:          e.Stream,
			StrictCitations: e.cfg.StrictCitations,
		}),
		Retrievers: retrievers,
		Logger:     e.Logger,
		Ledger:     ledger,
	}

	orch, err := orchestrator.New(deps, orchestrator.Options{
		ReportType:      opts.ReportType,
		Tone:            opts.Tone,
		MaxSubQueries:   e.cfg.MaxSubQueries,
		MaxSubtopics:    e.cfg.MaxSubtopics,
		MaxResults:      e.cfg.MaxSearchResults,
		Concurrency:     e.cfg.MaxConcurrency,
		TotalDepth:      e.cfg.TotalDepth,
		SourceURLs:      opts.SourceURLs,
		Subtopics:       opts.Subtopics,
		SubtopicTimeout: e.cfg.SubtopicTimeout,
		HeaderTimeout:   e.cfg.HeaderTimeout,
		OnStateUpdate:   e.OnStateUpdate,
	})
	if err != nil {
		return nil, err
	}

	return orch.Run(ctx, types.Query{Query: query})
}

// buildProviders assembles the fallback chain: the reasoning model first,
// then each configured fallback. Claude-prefixed models route to Anthropic,
// everything else to Gemini.
func (e *Engine) buildProviders(ctx context.Context) ([]llm.Provider, error) {
	primary, err := clients.GoogleAi(ctx, e.cfg.ReasoningModel, e.cfg.GoogleApiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary provider: %w", err)
	}

	providers := []llm.Provider{{
		Name:      "google",
		ModelName: e.cfg.ReasoningModel,
		Model:     primary,
	}}

	for _, name := range e.cfg.FallbackModels {
		if strings.HasPrefix(name, "claude") {
			model, err := clients.AnthropicAi(name, e.cfg.AnthropicApiKey)
			if err != nil {
				e.Logger.Warn("Skipping fallback model", "model", name, "error", err)
				continue
			}
			providers = append(providers, llm.Provider{Name: "anthropic", ModelName: name, Model: model})
			continue
		}
		model, err := clients.GoogleAi(ctx, name, e.cfg.GoogleApiKey)
		if err != nil {
			e.Logger.Warn("Skipping fallback model", "model", name, "error", err)
			continue
		}
		providers = append(providers, llm.Provider{Name: "google", ModelName: name, Model: model})
	}

	return providers, nil
}
