package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

// fakeModel is a scriptable llms.Model.
type fakeModel struct {
	calls     int
	failTimes int
	content   string
	info      map[string]any
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return nil, fmt.Errorf("simulated provider failure %d", f.calls)
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: f.content, GenerationInfo: f.info},
		},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func alwaysFailing() *fakeModel {
	return &fakeModel{failTimes: 1 << 30}
}

func TestFallbackExhaustion(t *testing.T) {
	primary := alwaysFailing()
	fb1 := alwaysFailing()
	fb2 := alwaysFailing()

	client, err := NewClient([]Provider{
		{Name: "google", ModelName: "gemini-3-pro-preview", Model: primary},
		{Name: "google", ModelName: "gemini-3-flash-preview", Model: fb1},
		{Name: "anthropic", ModelName: "claude-sonnet-4-20250514", Model: fb2},
	}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}

	called := false
	_, err = client.Call(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "hello"),
	}, WithCostCallback(func(Usage) { called = true }))

	if err == nil {
		t.Fatal("expected error after exhausting all providers")
	}
	if called {
		t.Error("cost callback must not fire for a failed call")
	}

	// Exactly N+1 distinct provider attempts, each with its own retry count.
	for i, m := range []*fakeModel{primary, fb1, fb2} {
		if m.calls != 2 {
			t.Errorf("provider %d attempts = %d, want 2", i, m.calls)
		}
	}

	// The aggregate error references every failed provider/model pair.
	for _, want := range []string{"gemini-3-pro-preview", "gemini-3-flash-preview", "claude-sonnet-4-20250514"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("aggregate error missing %q: %v", want, err)
		}
	}
}

func TestFallbackSuccessInvokesCostCallbackOnce(t *testing.T) {
	primary := alwaysFailing()
	fallback := &fakeModel{content: "report text"}

	client, err := NewClient([]Provider{
		{Name: "google", ModelName: "gemini-3-pro-preview", Model: primary},
		{Name: "anthropic", ModelName: "claude-sonnet-4-20250514", Model: fallback},
	}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}

	var usages []Usage
	out, err := client.Call(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "write a report"),
	}, WithCostCallback(func(u Usage) { usages = append(usages, u) }))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out != "report text" {
		t.Errorf("Call() = %q, want %q", out, "report text")
	}
	if len(usages) != 1 {
		t.Fatalf("cost callback fired %d times, want 1", len(usages))
	}
	if usages[0].PromptTokens <= 0 || usages[0].CompletionTokens <= 0 {
		t.Errorf("expected estimated token counts > 0, got %+v", usages[0])
	}
	if usages[0].Cost <= 0 {
		t.Errorf("expected cost > 0, got %v", usages[0].Cost)
	}
}

func TestProviderReportedTokensPreferred(t *testing.T) {
	model := &fakeModel{
		content: "ok",
		info:    map[string]any{"input_tokens": 123, "output_tokens": 45},
	}
	client, _ := NewClient([]Provider{{Name: "google", ModelName: "gemini-3-flash-preview", Model: model}}, 1, nil)

	var got Usage
	_, err := client.Call(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "hi"),
	}, WithCostCallback(func(u Usage) { got = u }))
	if err != nil {
		t.Fatal(err)
	}
	if got.PromptTokens != 123 || got.CompletionTokens != 45 {
		t.Errorf("usage = %+v, want provider-reported 123/45", got)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	model := &fakeModel{failTimes: 2, content: "eventually"}
	client, _ := NewClient([]Provider{{Name: "google", ModelName: "gemini-3-flash-preview", Model: model}}, 3, nil)

	out, err := client.Call(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "hi"),
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if out != "eventually" {
		t.Errorf("Call() = %q", out)
	}
	if model.calls != 3 {
		t.Errorf("attempts = %d, want 3", model.calls)
	}
}

func TestStreamingStillReturnsFullText(t *testing.T) {
	model := &fakeModel{content: "full text"}
	client, _ := NewClient([]Provider{{Name: "google", ModelName: "gemini-3-flash-preview", Model: model}}, 1, nil)

	var streamed []string
	out, err := client.Call(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "hi"),
	}, WithStream(func(chunk string) { streamed = append(streamed, chunk) }))
	if err != nil {
		t.Fatal(err)
	}
	if out != "full text" {
		t.Errorf("Call() = %q, want full text regardless of streaming", out)
	}
}

func TestCostLedger(t *testing.T) {
	parent := NewCostLedger()
	parent.Record(Usage{PromptTokens: 10, CompletionTokens: 20, Cost: 0.5})

	prev := parent.Totals()
	parent.Record(Usage{PromptTokens: 5, CompletionTokens: 5, Cost: 0.1})
	next := parent.Totals()
	if next.TotalCost < prev.TotalCost || next.PromptTokens < prev.PromptTokens {
		t.Error("ledger totals must be non-decreasing")
	}

	child := NewCostLedger()
	child.Record(Usage{PromptTokens: 100, CompletionTokens: 200, Cost: 1.5})
	parent.AddLedger(child)

	got := parent.Totals()
	if got.PromptTokens != 115 || got.CompletionTokens != 225 {
		t.Errorf("totals = %+v after child rollup", got)
	}
	if diff := got.TotalCost - 2.1; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("total cost = %v, want 2.1", got.TotalCost)
	}
}

func TestNewClientRequiresProvider(t *testing.T) {
	_, err := NewClient(nil, 1, nil)
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("NewClient() error = %v, want ErrNoProvider", err)
	}
}
