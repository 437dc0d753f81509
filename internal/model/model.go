// Package model holds the text generation clients the synthesizer prompts.
package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/llm4sql/llm4sql/internal/config"
)

const (
	ProviderOpenAI   = "openai"
	ProviderLlamaCPP = "llamacpp"

	defaultTimeout   = 60 * time.Second
	maxErrorBodySize = 2048
)

// Generator turns a prompt into raw model text. Implementations are safe for
// concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
	Provider() string
}

func New(cfg config.ModelConfig) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case ProviderLlamaCPP:
		return NewLlamaCPP(LlamaCPPConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Name,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

func normalizeBaseURL(raw string) (string, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(raw), "/")
	if baseURL == "" {
		return "", fmt.Errorf("base URL is required")
	}
	return baseURL, nil
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		if len(body) > maxErrorBodySize {
			body = body[:maxErrorBodySize]
		}
		return nil, fmt.Errorf("model request failed status=%d body=%s", resp.StatusCode, string(body))
	}
	return body, nil
}
