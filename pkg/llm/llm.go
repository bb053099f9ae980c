package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// ErrNoProvider is returned when a client is built with an empty provider
// chain.
var ErrNoProvider = errors.New("no LLM provider configured")

// Provider is one (name, model) pair in the fallback chain.
type Provider struct {
	Name      string
	ModelName string
	Model     llms.Model
}

// Client is the single chokepoint for every prompt in the system. It owns
// retry, provider fallback, streaming and cost accounting.
type Client struct {
	providers []Provider
	retries   int
	logger    *slog.Logger
}

// NewClient builds a client from an ordered provider chain; the first entry is
// the primary, the rest are fallbacks.
func NewClient(providers []Provider, retries int, logger *slog.Logger) (*Client, error) {
	if len(providers) == 0 {
		return nil, ErrNoProvider
	}
	if retries < 1 {
		retries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{providers: providers, retries: retries, logger: logger}, nil
}

// CallOptions collects per-call settings.
type CallOptions struct {
	Temperature  float64
	hasTemp      bool
	MaxTokens    int
	JSONMode     bool
	Stream       func(chunk string)
	CostCallback CostCallback
	Tools        []llms.Tool
}

// CallOption mutates CallOptions.
type CallOption func(*CallOptions)

func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = t; o.hasTemp = true }
}

func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

func WithJSONMode() CallOption {
	return func(o *CallOptions) { o.JSONMode = true }
}

// WithStream forwards partial output to sink as it arrives. The full text is
// still returned at the end.
func WithStream(sink func(chunk string)) CallOption {
	return func(o *CallOptions) { o.Stream = sink }
}

// WithCostCallback registers a callback invoked exactly once per successful
// call with the token counts and estimated dollar cost. Failed calls never
// trigger it.
func WithCostCallback(cb CostCallback) CallOption {
	return func(o *CallOptions) { o.CostCallback = cb }
}

// WithTools binds callable tools to the request.
func WithTools(tools []llms.Tool) CallOption {
	return func(o *CallOptions) { o.Tools = tools }
}

// Call runs the prompt through the provider chain and returns the generated
// text. Each provider is retried with linear backoff before moving to the
// next; if the whole chain fails the aggregate error names every attempt.
func (c *Client) Call(ctx context.Context, messages []llms.MessageContent, opts ...CallOption) (string, error) {
	resp, err := c.Generate(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

// Generate is Call with access to the full response, used by callers that
// need tool-call output.
func (c *Client) Generate(ctx context.Context, messages []llms.MessageContent, opts ...CallOption) (*llms.ContentResponse, error) {
	options := &CallOptions{}
	for _, opt := range opts {
		opt(options)
	}

	callOpts := c.buildCallOptions(options)

	var failures []error
	for pi, provider := range c.providers {
		if pi > 0 {
			c.logger.Warn("Falling back to alternate provider", "provider", provider.Name, "model", provider.ModelName)
		}

		resp, err := c.callProvider(ctx, provider, messages, callOpts)
		if err != nil {
			failures = append(failures, fmt.Errorf("provider %s (%s): %w", provider.Name, provider.ModelName, err))
			continue
		}

		if options.CostCallback != nil {
			options.CostCallback(c.usageFor(provider.ModelName, messages, resp))
		}
		return resp, nil
	}

	return nil, fmt.Errorf("all %d providers failed: %w", len(c.providers), errors.Join(failures...))
}

func (c *Client) callProvider(ctx context.Context, p Provider, messages []llms.MessageContent, callOpts []llms.CallOption) (*llms.ContentResponse, error) {
	var lastErr error

	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying LLM call", "provider", p.Name, "attempt", attempt+1, "last_error", lastErr)
			select {
			case <-time.After(time.Second * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.Model.GenerateContent(ctx, messages, callOpts...)
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("llm returned no choices")
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.retries, lastErr)
}

func (c *Client) buildCallOptions(options *CallOptions) []llms.CallOption {
	var callOpts []llms.CallOption
	if options.hasTemp {
		callOpts = append(callOpts, llms.WithTemperature(options.Temperature))
	}
	if options.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(options.MaxTokens))
	}
	if options.JSONMode {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	if len(options.Tools) > 0 {
		callOpts = append(callOpts, llms.WithTools(options.Tools))
	}
	if options.Stream != nil {
		sink := options.Stream
		callOpts = append(callOpts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			sink(string(chunk))
			return nil
		}))
	}
	return callOpts
}

func (c *Client) usageFor(model string, messages []llms.MessageContent, resp *llms.ContentResponse) Usage {
	choice := resp.Choices[0]

	prompt, completion := tokensFromInfo(choice.GenerationInfo)
	if prompt == 0 {
		prompt = estimateMessageTokens(messages)
	}
	if completion == 0 {
		completion = EstimateTokens(choice.Content)
	}

	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		Cost:             costFor(model, prompt, completion),
	}
}

func estimateMessageTokens(messages []llms.MessageContent) int {
	total := 0
	for _, m := range messages {
		for _, part := range m.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				total += EstimateTokens(tc.Text)
			}
		}
	}
	return total
}

// tokensFromInfo pulls token counts out of provider-reported generation info.
// Providers disagree on key naming.
func tokensFromInfo(info map[string]any) (prompt, completion int) {
	if info == nil {
		return 0, 0
	}
	for _, key := range []string{"PromptTokens", "prompt_tokens", "input_tokens"} {
		if v, ok := info[key]; ok {
			prompt = toInt(v)
			break
		}
	}
	for _, key := range []string{"CompletionTokens", "completion_tokens", "output_tokens"} {
		if v, ok := info[key]; ok {
			completion = toInt(v)
			break
		}
	}
	return prompt, completion
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
