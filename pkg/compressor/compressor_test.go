package compressor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mikeboe/report-engine/pkg/scraper"
)

// fakeEmbedder maps known substrings to fixed vectors so similarity is
// deterministic.
type fakeEmbedder struct {
	vectors map[string][]float32
	base    []float32
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	for key, vec := range f.vectors {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return f.base, nil
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCompressKeepsRelevantChunks(t *testing.T) {
	emb := &fakeEmbedder{
		vectors: map[string][]float32{
			"solar":    {1, 0, 0},
			"capacity": {0.9, 0.1, 0},
			"recipes":  {0, 1, 0},
		},
		base: []float32{0, 0, 1},
	}
	c := New(emb, testLogger(), Options{ChunkSize: 200, ChunkOverlap: 0})

	docs := []scraper.SourceDocument{
		{URL: "https://a.example", Title: "Energy", RawContent: "Global solar capacity grew sharply."},
		{URL: "https://b.example", Title: "Cooking", RawContent: "Top ten pasta recipes for autumn."},
	}

	out, err := c.Compress(context.Background(), "solar energy trends", docs)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if !strings.Contains(out, "solar capacity") {
		t.Errorf("output missing relevant chunk: %q", out)
	}
	if strings.Contains(out, "pasta") {
		t.Errorf("output includes irrelevant chunk: %q", out)
	}
	if !strings.Contains(out, "https://a.example") {
		t.Errorf("output missing source attribution: %q", out)
	}
}

func TestCompressNothingRelevant(t *testing.T) {
	emb := &fakeEmbedder{
		vectors: map[string][]float32{"solar": {1, 0, 0}},
		base:    []float32{0, 1, 0},
	}
	c := New(emb, testLogger(), Options{})

	docs := []scraper.SourceDocument{
		{URL: "https://b.example", Title: "Cooking", RawContent: "Top ten pasta recipes."},
	}
	out, err := c.Compress(context.Background(), "solar energy", docs)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if out != "" {
		t.Errorf("output = %q, want empty when nothing clears the threshold", out)
	}
}

func TestCompressEmptyInput(t *testing.T) {
	c := New(&fakeEmbedder{base: []float32{1}}, testLogger(), Options{})
	out, err := c.Compress(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if out != "" {
		t.Errorf("output = %q, want empty", out)
	}
}

func TestWrittenContentDistanceOrdering(t *testing.T) {
	emb := &fakeEmbedder{
		vectors: map[string][]float32{
			"market":  {1, 0, 0},
			"trend":   {0.8, 0.2, 0},
			"history": {0, 0, 1},
		},
		base: []float32{0, 1, 0},
	}
	w := NewWrittenContentCompressor(emb, testLogger(), 0.65)

	sections := []string{
		"A look at trend lines in adoption.",
		"The deep history of the field.",
		"Current market share by region.",
	}
	got, err := w.Relevant(context.Background(), "market analysis", sections)
	if err != nil {
		t.Fatalf("Relevant() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("kept %d sections, want 2 (history is too distant)", len(got))
	}
	if !strings.Contains(got[0], "market share") {
		t.Errorf("closest section = %q, want the market one first", got[0])
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}
