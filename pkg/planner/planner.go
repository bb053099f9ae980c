package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/types"
)

// Planner decomposes a research query into sub-queries and subtopics.
type Planner struct {
	LLM    *llm.Client
	Logger *slog.Logger
	Cost   llm.CostCallback

	// SkipDecomposition short-circuits Plan to the original query. Set when
	// the only configured retrievers are tool-protocol backends, which do
	// their own query handling.
	SkipDecomposition bool
}

func New(client *llm.Client, logger *slog.Logger, cost llm.CostCallback) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{LLM: client, Logger: logger, Cost: cost}
}

// Plan generates up to maxSubQueries search queries for q. It never fails:
// any LLM or parse failure degrades to the original query.
func (p *Planner) Plan(ctx context.Context, q types.Query, contextHint string, maxSubQueries int, rt types.ReportType) []types.SubQuery {
	if maxSubQueries < 1 {
		maxSubQueries = 1
	}
	if p.SkipDecomposition {
		return []types.SubQuery{{Query: q.Query}}
	}

	prompt := buildPlanPrompt(q, contextHint, maxSubQueries, rt)

	raw, err := p.LLM.Call(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, planSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, llm.WithJSONMode(), llm.WithCostCallback(p.Cost))
	if err != nil {
		p.Logger.Warn("Sub-query generation failed, using original query", "error", err)
		return []types.SubQuery{{Query: q.Query}}
	}

	subQueries := parseSubQueries(raw, q.Query)
	if len(subQueries) > maxSubQueries {
		subQueries = subQueries[:maxSubQueries]
	}

	p.Logger.Info("Generated sub-queries", "count", len(subQueries))
	return subQueries
}

// PlanSubtopics asks for the named sub-sections of a detailed report.
func (p *Planner) PlanSubtopics(ctx context.Context, q types.Query, contextHint string, maxSubtopics int) []types.Subtopic {
	if maxSubtopics < 1 {
		maxSubtopics = 1
	}

	input := fmt.Sprintf("Main topic: %s\n\nResearch context:\n%s\n\nGenerate at most %d subtopics.",
		q.Query, truncate(contextHint, 4000), maxSubtopics)

	raw, err := p.LLM.Call(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, subtopicSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, llm.WithJSONMode(), llm.WithCostCallback(p.Cost))
	if err != nil {
		p.Logger.Warn("Subtopic generation failed, using main topic", "error", err)
		return []types.Subtopic{{Task: q.Query, Order: 0}}
	}

	subtopics := parseSubtopics(raw, q.Query)
	if len(subtopics) > maxSubtopics {
		subtopics = subtopics[:maxSubtopics]
	}
	for i := range subtopics {
		subtopics[i].Order = i
	}
	return subtopics
}

const planSystemPrompt = `You are a research planner.
Decompose the research task into specific web search queries that together cover the topic.
Respond with a JSON array. Each element is either a string, or an object {"query": "...", "researchGoal": "..."}.
Return the JSON array directly without any formatting or additional text.`

const subtopicSystemPrompt = `You are a research editor planning the structure of a detailed report.
Respond with a JSON array of objects: [{"task": "subtopic name"}, ...].
Subtopics must not overlap and must all be relevant to the main topic.
Return the JSON array directly without any formatting or additional text.`

func buildPlanPrompt(q types.Query, contextHint string, maxSubQueries int, rt types.ReportType) string {
	var sb strings.Builder

	if q.ParentQuery != "" && (rt == types.ReportSubtopic || rt == types.ReportDetailed) {
		fmt.Fprintf(&sb, "Main research topic: %s\nCurrent subtopic: %s\n", q.ParentQuery, q.Query)
	} else {
		fmt.Fprintf(&sb, "Research topic: %s\n", q.Query)
	}
	if len(q.QueryDomains) > 0 {
		fmt.Fprintf(&sb, "Restrict searches to these domains: %s\n", strings.Join(q.QueryDomains, ", "))
	}
	if contextHint != "" {
		fmt.Fprintf(&sb, "\nInitial search results for context:\n%s\n", truncate(contextHint, 4000))
	}
	fmt.Fprintf(&sb, "\nGenerate at most %d search queries.", maxSubQueries)

	return sb.String()
}

// parseSubQueries applies three tiers of degradation: strict JSON, repaired
// JSON, then the original query as a single-element plan.
func parseSubQueries(raw, original string) []types.SubQuery {
	if out := decodeSubQueries(raw); len(out) > 0 {
		return out
	}
	if out := decodeSubQueries(repairJSON(raw)); len(out) > 0 {
		return out
	}
	return []types.SubQuery{{Query: original}}
}

func decodeSubQueries(raw string) []types.SubQuery {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil
	}

	var out []types.SubQuery
	for _, e := range elems {
		var s string
		if err := json.Unmarshal(e, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, types.SubQuery{Query: s})
			}
			continue
		}
		var sq types.SubQuery
		if err := json.Unmarshal(e, &sq); err == nil && strings.TrimSpace(sq.Query) != "" {
			out = append(out, sq)
		}
	}
	return out
}

func parseSubtopics(raw, original string) []types.Subtopic {
	decode := func(s string) []types.Subtopic {
		var items []struct {
			Task string `json:"task"`
		}
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			// Accept a plain array of strings too.
			var names []string
			if err := json.Unmarshal([]byte(s), &names); err != nil {
				return nil
			}
			for _, n := range names {
				items = append(items, struct {
					Task string `json:"task"`
				}{Task: n})
			}
		}
		var out []types.Subtopic
		for _, it := range items {
			if t := strings.TrimSpace(it.Task); t != "" {
				out = append(out, types.Subtopic{Task: t})
			}
		}
		return out
	}

	if out := decode(raw); len(out) > 0 {
		return out
	}
	if out := decode(repairJSON(raw)); len(out) > 0 {
		return out
	}
	return []types.Subtopic{{Task: original}}
}

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([\]}])`)
)

// repairJSON salvages a JSON array from sloppy LLM output: code fences are
// stripped, the first bracketed span is extracted, trailing commas removed.
func repairJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	var end int
	if s[start] == '[' {
		end = strings.LastIndex(s, "]")
	} else {
		end = strings.LastIndex(s, "}")
	}
	if end <= start {
		return s
	}
	s = s[start : end+1]

	return trailingCommaRe.ReplaceAllString(s, "$1")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
