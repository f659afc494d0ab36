// Package genai provides the OpenAI chat-completion client used for
// transcript scoring.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default generation parameters. The scorer wants deterministic-ish JSON, so
// temperature stays low.
const (
	DefaultModel       = openai.ChatModelGPT4o
	DefaultTemperature = 0.4
	DefaultMaxTokens   = 1500
)

// ClientInterface defines the chat-completion operations flows depend on.
// Tests substitute a mock implementation.
type ClientInterface interface {
	// GeneratePrompt runs a single system+user exchange and returns the
	// first choice's message content.
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// GenerateWithMessages runs a completion over a prepared message list.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens overrides the default completion token cap.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

// NewClient initializes a new GenAI client. The API key falls back to the
// OPENAI_API_KEY environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	slog.Debug("GenAI client config loaded", "APIKey_set", cfg.APIKey != "", "model", cfg.Model)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	return &Client{
		client:      openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

// GenerateWithMessages runs a chat completion over the given message list and
// returns the first choice's content.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		slog.Error("GenAI.GenerateWithMessages: completion failed", "error", err, "model", c.model)
		return "", err
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI.GenerateWithMessages: no choices returned", "model", c.model)
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
