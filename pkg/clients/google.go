package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/googleai"
)

// GoogleAi creates a langchaingo model backed by the Gemini API.
// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
func GoogleAi(ctx context.Context, model, apiKey string) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google api key is empty")
	}
	if model == "" {
		return nil, fmt.Errorf("model name is empty")
	}

	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create google ai client: %w", err)
	}

	return llm, nil
}
