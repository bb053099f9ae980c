package planner

import (
	"context"
	"testing"

	"github.com/mikeboe/report-engine/pkg/types"
)

func TestReorganizeMergesDrafts(t *testing.T) {
	p := newTestPlanner(`[
		{"subtopic_task": "Adoption", "headers": ["## Enterprise uptake", "## Consumer uptake"]},
		{"subtopic_task": "Risks", "headers": ["## Security"]}
	]`)

	drafts := []types.SubtopicHeaders{
		{Task: "Adoption", Headers: []string{"## Enterprise uptake"}},
		{Task: "Consumer adoption", Headers: []string{"## Consumer uptake"}},
		{Task: "Risks", Headers: []string{"## Security"}},
	}

	got := p.Reorganize(context.Background(), types.Query{Query: "ai adoption"}, drafts)
	if len(got) != 2 {
		t.Fatalf("Reorganize() = %v, want 2 merged subtopics", got)
	}
	if got[0].Task != "Adoption" || len(got[0].Headers) != 2 {
		t.Errorf("merged subtopic = %+v", got[0])
	}
}

func TestReorganizeFailureKeepsDrafts(t *testing.T) {
	drafts := []types.SubtopicHeaders{
		{Task: "One", Headers: []string{"## A"}},
		{Task: "Two", Headers: []string{"## B"}},
	}

	tests := []struct {
		name     string
		response string
	}{
		{"unparseable", "this is not json"},
		{"empty array", "[]"},
		{"blank tasks only", `[{"subtopic_task": "  ", "headers": ["## X"]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(tt.response)
			got := p.Reorganize(context.Background(), types.Query{Query: "q"}, drafts)
			if len(got) != 2 || got[0].Task != "One" {
				t.Errorf("Reorganize() = %v, want drafts unchanged", got)
			}
		})
	}
}

func TestReorganizeSkipsSingleDraft(t *testing.T) {
	p := newTestPlanner(`[{"subtopic_task": "should not be used", "headers": []}]`)

	drafts := []types.SubtopicHeaders{{Task: "Only", Headers: []string{"## A"}}}
	got := p.Reorganize(context.Background(), types.Query{Query: "q"}, drafts)
	if len(got) != 1 || got[0].Task != "Only" {
		t.Errorf("Reorganize() = %v, want single draft untouched", got)
	}
}

func TestReflectDescends(t *testing.T) {
	p := newTestPlanner(`{"continue": true, "follow_up_queries": ["latency benchmarks", "cost per query"]}`)

	got, descend := p.Reflect(context.Background(), types.Query{Query: "llm serving"}, "findings", 1, 3)
	if !descend {
		t.Fatal("Reflect() descend = false, want true")
	}
	if len(got) != 2 || got[0].Query != "latency benchmarks" {
		t.Errorf("Reflect() = %v", got)
	}
}

func TestReflectFinalizes(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		currentDepth int
		totalDepth   int
	}{
		{"model declines", `{"continue": false, "follow_up_queries": ["ignored"]}`, 1, 3},
		{"no follow ups", `{"continue": true, "follow_up_queries": []}`, 1, 3},
		{"unparseable", "maybe?", 1, 3},
		{"depth exhausted", `{"continue": true, "follow_up_queries": ["q"]}`, 3, 3},
		{"blank follow ups", `{"continue": true, "follow_up_queries": ["  ", ""]}`, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(tt.response)
			got, descend := p.Reflect(context.Background(), types.Query{Query: "q"}, "ctx", tt.currentDepth, tt.totalDepth)
			if descend || got != nil {
				t.Errorf("Reflect() = (%v, %v), want (nil, false)", got, descend)
			}
		})
	}
}
