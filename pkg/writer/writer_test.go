package writer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/types"
)

// systemRejectingModel fails any call containing a system-role message, the
// way some providers do.
type systemRejectingModel struct {
	response string
	calls    int
}

func (m *systemRejectingModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	for _, msg := range messages {
		if msg.Role == llms.ChatMessageTypeSystem {
			return nil, errors.New("system messages not supported")
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.response}}}, nil
}

func (m *systemRejectingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.response, nil
}

type failingModel struct{}

func (m *failingModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, errors.New("provider down")
}

func (m *failingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("provider down")
}

type echoModel struct {
	response string
	lastUser string
}

func (m *echoModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range messages {
		if msg.Role == llms.ChatMessageTypeHuman {
			for _, part := range msg.Parts {
				if text, ok := part.(llms.TextContent); ok {
					m.lastUser = text.Text
				}
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.response}}}, nil
}

func (m *echoModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.response, nil
}

func newTestWriter(t *testing.T, m llms.Model, opts Options) *Writer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := llm.NewClient([]llm.Provider{{Name: "fake", ModelName: "fake-model", Model: m}}, 1, logger)
	if err != nil {
		t.Fatal(err)
	}
	return New(client, logger, opts)
}

func TestGenerateCollapsesOnSystemRejection(t *testing.T) {
	model := &systemRejectingModel{response: "The introduction."}
	w := newTestWriter(t, model, Options{})

	out := w.WriteIntroduction(context.Background(), types.Query{Query: "q"}, "ctx", nil)
	if out != "The introduction." {
		t.Errorf("WriteIntroduction() = %q, want the collapsed-retry response", out)
	}
	if model.calls != 2 {
		t.Errorf("calls = %d, want 2 (structured then collapsed)", model.calls)
	}
}

func TestGenerateGivesUpEmpty(t *testing.T) {
	w := newTestWriter(t, &failingModel{}, Options{})
	out := w.WriteIntroduction(context.Background(), types.Query{Query: "q"}, "ctx", nil)
	if out != "" {
		t.Errorf("WriteIntroduction() = %q, want empty after both attempts fail", out)
	}
}

func TestWriteSectionStripsDuplicateHeaders(t *testing.T) {
	model := &echoModel{response: "## Market Overview\nOld ground.\n## New Angle\nFresh ground."}
	w := newTestWriter(t, model, Options{})

	out := w.WriteSection(context.Background(), SectionTask{
		Query:      types.Query{Query: "B", ParentQuery: "parent topic"},
		Context:    "ctx",
		ReportType: types.ReportSubtopic,
		ExistingHeaders: []types.SubtopicHeaders{
			{Task: "A", Headers: []string{"Market Overview"}},
		},
	})

	if strings.Contains(out, "## Market Overview") {
		t.Errorf("duplicate header not stripped: %q", out)
	}
	if !strings.Contains(out, "## New Angle") {
		t.Errorf("new header missing: %q", out)
	}
	if !strings.Contains(model.lastUser, "Market Overview") {
		t.Errorf("prompt did not warn about existing headers: %q", model.lastUser)
	}
}

func TestWriteConclusionIncludesGap(t *testing.T) {
	model := &echoModel{response: "## Conclusion\nDone."}
	w := newTestWriter(t, model, Options{})

	out := w.WriteConclusion(context.Background(), types.Query{Query: "q"}, "body", "open angle: costs", nil)
	if !strings.Contains(out, "## Conclusion") {
		t.Errorf("WriteConclusion() = %q", out)
	}
	if !strings.Contains(model.lastUser, "open angle: costs") {
		t.Errorf("prompt missing research gap: %q", model.lastUser)
	}
}
