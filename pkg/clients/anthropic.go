package clients

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/anthropic"
)

// AnthropicAi creates a langchaingo model backed by the Anthropic API. Used as
// a fallback provider behind Gemini.
func AnthropicAi(model, apiKey string) (*anthropic.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is empty")
	}
	if model == "" {
		return nil, fmt.Errorf("model name is empty")
	}

	llm, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic client: %w", err)
	}

	return llm, nil
}
