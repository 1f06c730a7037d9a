package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// EmbedderConfig represents the configuration for summary embeddings.
type EmbedderConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

type embeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder turns document summaries into vectors for similarity search.
type Embedder struct {
	Config EmbedderConfig
	client embeddingClient
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	var (
		client embeddingClient
		err    error
	)

	switch config.Provider {
	case "", "openai":
		opts := []openai.Option{}
		if config.Model != "" {
			opts = append(opts, openai.WithEmbeddingModel(config.Model))
		}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		client, err = openai.New(opts...)
	case "ollama":
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		client, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	default:
		return nil, fmt.Errorf("unsupported provider: %s", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{Config: config, client: client}, nil
}

// NewEmbedderWithClient wraps any client exposing CreateEmbedding.
func NewEmbedderWithClient(client embeddingClient) *Embedder {
	return &Embedder{client: client}
}

// Embed returns the vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.client.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("failed to create embedding: empty result")
	}
	return embeddings[0], nil
}
