// Package llm wraps the generative language model behind a single
// generate(prompt) -> text contract. The model itself is an external
// capability reached through an OpenAI-compatible chat API.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrGenerationFailed indicates the model call failed.
	ErrGenerationFailed = errors.New("generation failed")
)

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)

	// Model returns the model name for response metadata.
	Model() string
}

// Config holds configuration for the OpenAI-compatible generator.
type Config struct {
	// BaseURL is the base URL of the chat completion API.
	BaseURL string

	// Model is the chat model name.
	// Default: "llama3.1"
	Model string

	// APIKey is the API key. Optional for local inference servers.
	APIKey string

	// MaxTokens caps the generated output length.
	// Default: 512
	MaxTokens int

	// Temperature controls sampling randomness. Kept low so answers over
	// the same context are reproducible. Default: 0.1
	Temperature float64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434/v1"
	}
	if c.Model == "" {
		c.Model = "llama3.1"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 512
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive", ErrInvalidConfig)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be in [0,2]", ErrInvalidConfig)
	}
	return nil
}

// OpenAIGenerator implements Generator on langchaingo's OpenAI client.
type OpenAIGenerator struct {
	llm    llms.Model
	config Config
	logger *zap.Logger
}

// NewOpenAIGenerator creates a generator for the configured endpoint.
func NewOpenAIGenerator(config Config, logger *zap.Logger) (*OpenAIGenerator, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = "unused"
	}

	model, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}

	return &OpenAIGenerator{
		llm:    model,
		config: config,
		logger: logger,
	}, nil
}

// Generate runs one completion with capped output and low temperature.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt,
		llms.WithMaxTokens(g.config.MaxTokens),
		llms.WithTemperature(g.config.Temperature),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	g.logger.Debug("generated completion",
		zap.String("model", g.config.Model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("output_chars", len(out)),
	)
	return out, nil
}

// Model returns the configured model name.
func (g *OpenAIGenerator) Model() string {
	return g.config.Model
}

var _ Generator = (*OpenAIGenerator)(nil)
