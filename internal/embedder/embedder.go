// Package embedder turns text into dense vectors for the search pipeline.
package embedder

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Embedder embeds a batch of texts. The result has the same length and
// order as the input.
type Embedder interface {
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Preparer is implemented by embedders that must be fitted on the corpus
// before use.
type Preparer interface {
	Prepare(corpus []string) error
}

// Config selects and configures an embedder.
type Config struct {
	Type            string `mapstructure:"type" yaml:"type"`
	OllamaURL       string `mapstructure:"ollama_url" yaml:"ollama_url"`
	Model           string `mapstructure:"model" yaml:"model"`
	OpenAIBaseURL   string `mapstructure:"openai_base_url" yaml:"openai_base_url"`
	OpenAIAPIKeyEnv string `mapstructure:"openai_api_key_env" yaml:"openai_api_key_env"`
	TimeoutSecs     int    `mapstructure:"timeout_secs" yaml:"timeout_secs"`
}

// New builds the embedder named by cfg.Type: ollama, openai or tfidf.
func New(cfg Config) (Embedder, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	switch cfg.Type {
	case "", "ollama":
		return NewOllamaEmbedder(cfg.OllamaURL, cfg.Model, timeout), nil
	case "openai":
		key := os.Getenv(cfg.OpenAIAPIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("openai embedder: %s is not set", cfg.OpenAIAPIKeyEnv)
		}
		return NewOpenAIEmbedder(cfg.OpenAIBaseURL, key, cfg.Model, timeout), nil
	case "tfidf":
		return NewTFIDF(), nil
	}
	return nil, fmt.Errorf("unknown embedder type %q", cfg.Type)
}

// EmbedSingle embeds one text.
func EmbedSingle(ctx context.Context, e Embedder, text string) ([]float32, error) {
	results, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(results))
	}
	return results[0], nil
}
