package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/claimcheck/internal/models"
	"golang.org/x/time/rate"
)

// EngineConfig represents the configuration for an extraction engine.
type EngineConfig struct {
	Provider    string // "openai" or "ollama"
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string
	APIKey      string
	RateLimit   float64 // completions per second
}

// Engine sends document text to an LLM and returns its raw answer.
type Engine struct {
	config  EngineConfig
	llm     llms.Model
	limiter *rate.Limiter
}

// NewWithConfig creates a new Engine backed by the configured provider.
func NewWithConfig(config EngineConfig) (*Engine, error) {
	config, err := withDefaults(config)
	if err != nil {
		return nil, err
	}

	model, err := newModel(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return newEngine(config, model), nil
}

// NewWithModel creates an Engine around an existing model.
func NewWithModel(config EngineConfig, model llms.Model) (*Engine, error) {
	config, err := withDefaults(config)
	if err != nil {
		return nil, err
	}
	return newEngine(config, model), nil
}

func newEngine(config EngineConfig, model llms.Model) *Engine {
	return &Engine{
		config:  config,
		llm:     model,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func withDefaults(config EngineConfig) (EngineConfig, error) {
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.Model == "" {
		config.Model = "gpt-4"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 1
	}
	return config, nil
}

func newModel(config EngineConfig) (llms.Model, error) {
	switch config.Provider {
	case "openai":
		opts := []openai.Option{openai.WithModel(config.Model)}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		return openai.New(opts...)
	case "ollama":
		baseURL := config.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(baseURL))
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
}

// Model returns the configured model name.
func (e *Engine) Model() string {
	return e.config.Model
}

// Complete asks the model to classify and extract fields from text and
// returns the trimmed response verbatim.
func (e *Engine) Complete(ctx context.Context, kind models.DocumentKind, text string) (string, error) {
	prompt, err := BuildPrompt(kind, text)
	if err != nil {
		return "", err
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	response, err := e.llm.GenerateContent(ctx, content,
		llms.WithTemperature(e.config.Temperature),
		llms.WithMaxTokens(e.config.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("completion error: %w", err)
	}

	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", fmt.Errorf("completion error: no response from LLM")
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}
