package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/types"
)

const draftHeadersSystemPrompt = `You are a research report writer planning one subtopic section.
Propose the section headers you would use, based on the research context. Headers only, no content.
Respond with a JSON array of strings. Return the JSON array directly without any formatting or additional text.`

// DraftHeaders asks for a subtopic's section headers without writing any
// content. This is the cheap pass that runs before the report structure is
// reorganized; failure just means no headers for this subtopic.
func (w *Writer) DraftHeaders(ctx context.Context, query types.Query, researchContext string) []string {
	input := fmt.Sprintf("Main report topic: %s\nSubtopic: %s\n\nResearch context:\n%s",
		query.ParentQuery, query.Query, researchContext)

	raw, err := w.llm.Call(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, draftHeadersSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, llm.WithJSONMode(), llm.WithCostCallback(w.cost))
	if err != nil {
		w.logger.Warn("Header draft failed", "subtopic", query.Query, "error", err)
		return nil
	}

	var headers []string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		w.logger.Warn("Header draft returned unparseable output", "subtopic", query.Query, "error", err)
		return nil
	}

	out := headers[:0]
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}
