package indexer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mikeboe/report-engine/pkg/embeddings"
	"github.com/mikeboe/report-engine/pkg/scraper"
	"github.com/mikeboe/report-engine/pkg/splitter"
	"github.com/mikeboe/report-engine/pkg/vectorstore"
)

// Indexer persists scraped sources into the vector store so later runs and
// the chat agent can search them. Each run gets its own report_id in the
// chunk metadata.
type Indexer struct {
	store    *vectorstore.PGVectorStore
	embedder embeddings.Embedder
	splitter *splitter.TextSplitter
	logger   *slog.Logger
	runID    string
}

func New(store *vectorstore.PGVectorStore, embedder embeddings.Embedder, chunkSize, chunkOverlap int, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    store,
		embedder: embedder,
		splitter: splitter.NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap),
		logger:   logger,
		runID:    uuid.NewString(),
	}
}

// Index chunks, embeds and stores the documents. Indexing is best-effort:
// a failure is logged and the research run proceeds without it.
func (i *Indexer) Index(ctx context.Context, query string, docs []scraper.SourceDocument) {
	var out []vectorstore.Document

	for _, doc := range docs {
		chunks, err := i.splitter.SplitText(doc.RawContent)
		if err != nil {
			i.logger.Warn("Failed to split document for indexing", "source", doc.URL, "error", err)
			continue
		}
		if len(chunks) == 0 {
			continue
		}

		embs, err := i.embedder.EmbedTexts(ctx, chunks)
		if err != nil {
			i.logger.Warn("Failed to embed document for indexing", "source", doc.URL, "error", err)
			continue
		}

		for n, chunk := range chunks {
			out = append(out, vectorstore.Document{
				Content:   chunk,
				Embedding: embs[n],
				Metadata: map[string]interface{}{
					"source":    doc.URL,
					"title":     doc.Title,
					"query":     query,
					"report_id": i.runID,
					"chunk":     n,
				},
			})
		}
	}

	if len(out) == 0 {
		return
	}
	if err := i.store.AddDocuments(ctx, out); err != nil {
		i.logger.Warn("Failed to index sources", "count", len(out), "error", err)
		return
	}
	i.logger.Info("Indexed sources", "chunks", len(out), "report_id", i.runID)
}
