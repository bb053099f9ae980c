package curator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/scraper"
)

// Curator asks the LLM to filter and rank acquired sources for a query. It
// is best-effort: any failure, from the call itself to unparseable output,
// returns the input unchanged so research never stalls on curation.
type Curator struct {
	llm    *llm.Client
	cost   llm.CostCallback
	logger *slog.Logger
}

func New(client *llm.Client, cost llm.CostCallback, logger *slog.Logger) *Curator {
	return &Curator{llm: client, cost: cost, logger: logger}
}

const curateSystemPrompt = `You are a research source curator. You evaluate scraped sources for relevance, credibility, and information density against a research query.

Given a query and a JSON array of sources, return a JSON array containing only the sources worth keeping, ordered most valuable first. Keep the exact same JSON structure for each source; never rewrite or summarize their content. Return the JSON array directly without any formatting or additional text.`

// maxContentForCuration bounds how much of each source the model sees.
const maxContentForCuration = 2000

func (c *Curator) Curate(ctx context.Context, query string, docs []scraper.SourceDocument) []scraper.SourceDocument {
	if len(docs) == 0 {
		return docs
	}

	trimmed := make([]scraper.SourceDocument, len(docs))
	copy(trimmed, docs)
	for i := range trimmed {
		if len(trimmed[i].RawContent) > maxContentForCuration {
			trimmed[i].RawContent = trimmed[i].RawContent[:maxContentForCuration]
		}
	}

	payload, err := json.Marshal(trimmed)
	if err != nil {
		c.logger.Warn("Failed to marshal sources for curation", "error", err)
		return docs
	}

	input := fmt.Sprintf("Query: %s\n\nSources:\n%s", query, payload)
	raw, err := c.llm.Call(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, curateSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, llm.WithJSONMode(), llm.WithCostCallback(c.cost))
	if err != nil {
		c.logger.Warn("Curation call failed, keeping all sources", "query", query, "error", err)
		return docs
	}

	var curated []scraper.SourceDocument
	if err := json.Unmarshal([]byte(raw), &curated); err != nil {
		c.logger.Warn("Curation returned unparseable output, keeping all sources", "query", query, "error", err)
		return docs
	}
	if len(curated) == 0 {
		c.logger.Warn("Curation dropped every source, keeping all sources", "query", query)
		return docs
	}

	// Restore full content for the survivors; the model saw truncated copies.
	byURL := make(map[string]scraper.SourceDocument, len(docs))
	for _, doc := range docs {
		byURL[doc.URL] = doc
	}
	out := make([]scraper.SourceDocument, 0, len(curated))
	for _, doc := range curated {
		if full, ok := byURL[doc.URL]; ok {
			out = append(out, full)
		}
	}
	if len(out) == 0 {
		return docs
	}

	c.logger.Info("Curated sources", "query", query, "before", len(docs), "after", len(out))
	return out
}
