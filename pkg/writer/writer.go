package writer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/types"
)

// Writer produces report sections. Every entry point is one LLM call plus
// the uniform citation sanitization pass.
type Writer struct {
	llm             *llm.Client
	cost            llm.CostCallback
	logger          *slog.Logger
	stream          func(chunk string)
	strictCitations bool
}

type Options struct {
	Cost            llm.CostCallback
	Stream          func(chunk string)
	StrictCitations bool
}

func New(client *llm.Client, logger *slog.Logger, opts Options) *Writer {
	return &Writer{
		llm:             client,
		cost:            opts.Cost,
		logger:          logger,
		stream:          opts.Stream,
		strictCitations: opts.StrictCitations,
	}
}

// generate runs the structured {system, user} call; if that fails it retries
// once with both messages collapsed into a single user message, since some
// providers reject system-role messages. Gives up with an empty string.
func (w *Writer) generate(ctx context.Context, system, user string) string {
	opts := []llm.CallOption{llm.WithCostCallback(w.cost)}
	if w.stream != nil {
		opts = append(opts, llm.WithStream(w.stream))
	}

	out, err := w.llm.Call(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}, opts...)
	if err == nil {
		return out
	}
	w.logger.Warn("Structured write call failed, retrying with collapsed prompt", "error", err)

	out, err = w.llm.Call(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, system+"\n\n"+user),
	}, opts...)
	if err != nil {
		w.logger.Error("Write call failed after collapsed retry", "error", err)
		return ""
	}
	return out
}

func (w *Writer) sanitize(text string, allowedURLs map[string]bool) string {
	return Sanitize(text, SanitizeOptions{
		AllowedURLs:     allowedURLs,
		StrictCitations: w.strictCitations,
	})
}

func (w *Writer) WriteIntroduction(ctx context.Context, query types.Query, researchContext string, allowedURLs map[string]bool) string {
	user := fmt.Sprintf("Research question: %s\n\nResearch context:\n%s", query.Query, researchContext)
	return w.sanitize(w.generate(ctx, introductionSystemPrompt, user), allowedURLs)
}

// WriteSection writes the report body for the given report type. Subtopic
// sections also get a post-pass removing any header text that verbatim
// repeats a header already written elsewhere.
func (w *Writer) WriteSection(ctx context.Context, task SectionTask) string {
	out := w.generate(ctx, sectionPromptFor(task.ReportType), buildSectionPrompt(task))
	out = w.sanitize(out, task.AllowedURLs)

	if len(task.ExistingHeaders) > 0 {
		var headers []string
		for _, eh := range task.ExistingHeaders {
			headers = append(headers, eh.Headers...)
		}
		out = StripDuplicateHeaders(out, headers)
	}
	return out
}

// SectionTask carries everything one body-section write needs.
type SectionTask struct {
	Query           types.Query
	Context         string
	ReportType      types.ReportType
	Tone            types.Tone
	ExistingHeaders []types.SubtopicHeaders
	RelevantWritten []string
	AllowedURLs     map[string]bool
}

func (w *Writer) WriteConclusion(ctx context.Context, query types.Query, reportBody, researchGap string, allowedURLs map[string]bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research question: %s\n\nReport body:\n%s\n", query.Query, reportBody)
	if researchGap != "" {
		fmt.Fprintf(&sb, "\nResearch gap:\n%s\n", researchGap)
	}
	return w.sanitize(w.generate(ctx, conclusionSystemPrompt, sb.String()), allowedURLs)
}

// WriteResearchGap identifies what the gathered context leaves unanswered.
// It feeds both the introduction framing and the conclusion.
func (w *Writer) WriteResearchGap(ctx context.Context, query types.Query, researchContext string) string {
	user := fmt.Sprintf("Research question: %s\n\nGathered context:\n%s", query.Query, researchContext)
	return w.generate(ctx, researchGapSystemPrompt, user)
}
