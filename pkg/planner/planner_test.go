package planner

import (
	"context"
	"reflect"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/types"
)

type staticModel struct {
	response string
}

func (m *staticModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *staticModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.response, nil
}

func newTestPlanner(response string) *Planner {
	client, _ := llm.NewClient([]llm.Provider{
		{Name: "fake", ModelName: "gemini-3-flash-preview", Model: &staticModel{response: response}},
	}, 1, nil)
	return New(client, nil, nil)
}

func TestPlanMalformedResponseFallsBackToOriginalQuery(t *testing.T) {
	p := newTestPlanner("not json at all")

	got := p.Plan(context.Background(), types.Query{Query: "impact of interest rates on housing"}, "", 3, types.ReportResearch)

	want := []types.SubQuery{{Query: "impact of interest rates on housing"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Plan() = %v, want %v", got, want)
	}
}

func TestPlanParsesStringArray(t *testing.T) {
	p := newTestPlanner(`["mortgage rates 2024", "housing inventory trends", "fed policy housing market"]`)

	got := p.Plan(context.Background(), types.Query{Query: "housing"}, "", 3, types.ReportResearch)
	if len(got) != 3 || got[1].Query != "housing inventory trends" {
		t.Errorf("Plan() = %v", got)
	}
}

func TestPlanParsesObjectArrayAndCaps(t *testing.T) {
	p := newTestPlanner(`[
		{"query": "q1", "researchGoal": "goal one"},
		{"query": "q2"},
		{"query": "q3"},
		{"query": "q4"}
	]`)

	got := p.Plan(context.Background(), types.Query{Query: "topic"}, "", 2, types.ReportResearch)
	if len(got) != 2 {
		t.Fatalf("Plan() returned %d sub-queries, want capped at 2", len(got))
	}
	if got[0].ResearchGoal != "goal one" {
		t.Errorf("research goal not preserved: %+v", got[0])
	}
}

func TestPlanRepairsFencedJSON(t *testing.T) {
	p := newTestPlanner("Here you go:\n```json\n[\"a\", \"b\",]\n```\nhope that helps")

	got := p.Plan(context.Background(), types.Query{Query: "topic"}, "", 5, types.ReportResearch)
	if len(got) != 2 || got[0].Query != "a" || got[1].Query != "b" {
		t.Errorf("Plan() = %v, want repaired [a b]", got)
	}
}

func TestPlanSkipDecomposition(t *testing.T) {
	p := newTestPlanner(`["should", "not", "be", "used"]`)
	p.SkipDecomposition = true

	got := p.Plan(context.Background(), types.Query{Query: "tool query"}, "", 5, types.ReportResearch)
	if len(got) != 1 || got[0].Query != "tool query" {
		t.Errorf("Plan() = %v, want original query only", got)
	}
}

func TestPlanSubtopics(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []string
	}{
		{"objects", `[{"task": "Market Overview"}, {"task": "Regulation"}]`, []string{"Market Overview", "Regulation"}},
		{"strings", `["One", "Two"]`, []string{"One", "Two"}},
		{"garbage falls back", "no subtopics here", []string{"main topic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(tt.response)
			got := p.PlanSubtopics(context.Background(), types.Query{Query: "main topic"}, "", 5)
			if len(got) != len(tt.want) {
				t.Fatalf("PlanSubtopics() = %v, want tasks %v", got, tt.want)
			}
			for i, w := range tt.want {
				if got[i].Task != w {
					t.Errorf("subtopic[%d] = %q, want %q", i, got[i].Task, w)
				}
				if got[i].Order != i {
					t.Errorf("subtopic[%d].Order = %d, want %d", i, got[i].Order, i)
				}
			}
		})
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"fenced", "```json\n[1, 2]\n```", "[1, 2]"},
		{"trailing comma", `["a", "b",]`, `["a", "b"]`},
		{"embedded array", `The plan is: ["x"] as requested.`, `["x"]`},
		{"no json", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := repairJSON(tt.input); got != tt.want {
				t.Errorf("repairJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
