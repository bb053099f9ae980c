package compressor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mikeboe/report-engine/pkg/embeddings"
)

// WrittenContentCompressor selects previously written report sections
// relevant to a new section topic. It ranks by cosine distance, where lower
// is closer, so its threshold is an upper bound rather than a lower one.
type WrittenContentCompressor struct {
	embedder  embeddings.Embedder
	logger    *slog.Logger
	threshold float64
}

func NewWrittenContentCompressor(embedder embeddings.Embedder, logger *slog.Logger, distanceThreshold float64) *WrittenContentCompressor {
	if distanceThreshold <= 0 {
		distanceThreshold = 0.65
	}
	return &WrittenContentCompressor{embedder: embedder, logger: logger, threshold: distanceThreshold}
}

// Relevant returns the sections whose distance to the topic is within the
// threshold, closest first.
func (w *WrittenContentCompressor) Relevant(ctx context.Context, topic string, sections []string) ([]string, error) {
	if len(sections) == 0 {
		return nil, nil
	}

	topicEmb, err := w.embedder.EmbedText(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to embed topic: %w", err)
	}
	sectionEmbs, err := w.embedder.EmbedTexts(ctx, sections)
	if err != nil {
		return nil, fmt.Errorf("failed to embed sections: %w", err)
	}
	if len(sectionEmbs) != len(sections) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d sections", len(sectionEmbs), len(sections))
	}

	type scored struct {
		text     string
		distance float64
	}
	var kept []scored
	for i, section := range sections {
		distance := 1 - CosineSimilarity(topicEmb, sectionEmbs[i])
		if distance <= w.threshold {
			kept = append(kept, scored{text: section, distance: distance})
		}
	}
	w.logger.Debug("Filtered written content", "topic", topic, "sections", len(sections), "kept", len(kept))

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].distance < kept[j].distance })

	out := make([]string, len(kept))
	for i, s := range kept {
		out[i] = s.text
	}
	return out, nil
}
