package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/types"
)

const reorganizeSystemPrompt = `You are a research editor. You receive a report's planned subtopics with their draft section headers.
Merge overlapping subtopics, remove duplicate headers across subtopics, and order everything for a coherent report.
Respond with a JSON array of objects: [{"subtopic_task": "...", "headers": ["...", ...]}, ...].
Return the JSON array directly without any formatting or additional text.`

// Reorganize merges and reorders drafted subtopic headers before any full
// section is written. Failure keeps the drafts as they are.
func (p *Planner) Reorganize(ctx context.Context, q types.Query, drafts []types.SubtopicHeaders) []types.SubtopicHeaders {
	if len(drafts) < 2 {
		return drafts
	}

	payload, err := json.Marshal(drafts)
	if err != nil {
		return drafts
	}
	input := fmt.Sprintf("Report topic: %s\n\nDraft structure:\n%s", q.Query, payload)

	raw, err := p.LLM.Call(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, reorganizeSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, llm.WithJSONMode(), llm.WithCostCallback(p.Cost))
	if err != nil {
		p.Logger.Warn("Reorganization failed, keeping draft structure", "error", err)
		return drafts
	}

	var out []types.SubtopicHeaders
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		if err := json.Unmarshal([]byte(repairJSON(raw)), &out); err != nil {
			p.Logger.Warn("Reorganization returned unparseable output, keeping draft structure", "error", err)
			return drafts
		}
	}

	var kept []types.SubtopicHeaders
	for _, sh := range out {
		if strings.TrimSpace(sh.Task) != "" {
			kept = append(kept, sh)
		}
	}
	if len(kept) == 0 {
		return drafts
	}
	return kept
}

const reflectSystemPrompt = `You are a research lead reviewing progress partway through a multi-level research run.
Decide whether another level of research would materially improve the report, and if so which follow-up questions to pursue.
Respond with a JSON object: {"continue": true|false, "follow_up_queries": ["...", ...]}.
Return the JSON object directly without any formatting or additional text.`

// Reflect decides whether deep research should descend another level and, if
// so, with which follow-up queries. Any failure finalizes the run; depth
// never extends on a guess.
func (p *Planner) Reflect(ctx context.Context, q types.Query, researchContext string, currentDepth, totalDepth int) ([]types.SubQuery, bool) {
	if currentDepth >= totalDepth {
		return nil, false
	}

	input := fmt.Sprintf("Research question: %s\nCompleted depth: %d of %d\n\nFindings so far:\n%s",
		q.Query, currentDepth, totalDepth, truncate(researchContext, 6000))

	raw, err := p.LLM.Call(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, reflectSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, llm.WithJSONMode(), llm.WithCostCallback(p.Cost))
	if err != nil {
		p.Logger.Warn("Reflection failed, finalizing research", "depth", currentDepth, "error", err)
		return nil, false
	}

	var decision struct {
		Continue  bool     `json:"continue"`
		FollowUps []string `json:"follow_up_queries"`
	}
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		if err := json.Unmarshal([]byte(repairJSON(raw)), &decision); err != nil {
			p.Logger.Warn("Reflection returned unparseable output, finalizing research", "error", err)
			return nil, false
		}
	}
	if !decision.Continue || len(decision.FollowUps) == 0 {
		return nil, false
	}

	var out []types.SubQuery
	for _, f := range decision.FollowUps {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, types.SubQuery{Query: f})
		}
	}
	return out, len(out) > 0
}
