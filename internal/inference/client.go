package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrBackendStream marks any failure talking to the inference backend.
var ErrBackendStream = errors.New("inference backend stream failed")

// Request is one prompt submitted to the backend.
type Request struct {
	ID     string
	Prompt string
	UserID string
}

// Stream yields text fragments in order. Next returns io.EOF once the backend
// signals completion. Fragments may be empty; callers treat those as no-ops.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Client opens one streaming inference call per request.
type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
	Name() string
}

// Config controls client construction.
type Config struct {
	Mode           string
	URL            string
	OpenAIBaseURL  string
	APIKey         string
	Model          string
	PromptPrefix   string
	ConnectRetries int // ollama only

	ReasoningOpen  string
	ReasoningClose string
}

func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	if mode == "auto" {
		mode = resolveAutoMode(cfg)
	}

	var inner Client
	switch mode {
	case "ollama":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("inference URL is required for ollama mode")
		}
		ollama := NewOllamaClient(cfg.URL, cfg.Model, cfg.PromptPrefix)
		ollama.SetConnectRetries(cfg.ConnectRetries)
		inner = ollama
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" && strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
			return nil, errors.New("inference API key or base URL is required for openai mode")
		}
		inner = NewOpenAIClient(cfg.OpenAIBaseURL, cfg.APIKey, cfg.Model, cfg.PromptPrefix)
	case "mock":
		inner = NewMockClient()
	default:
		return nil, fmt.Errorf("unsupported inference mode %q", cfg.Mode)
	}

	if cfg.ReasoningOpen == "" || cfg.ReasoningClose == "" {
		return inner, nil
	}
	return &strippingClient{inner: inner, open: cfg.ReasoningOpen, close: cfg.ReasoningClose}, nil
}

func resolveAutoMode(cfg Config) string {
	if strings.TrimSpace(cfg.APIKey) != "" || strings.TrimSpace(cfg.OpenAIBaseURL) != "" {
		return "openai"
	}
	if strings.TrimSpace(cfg.URL) != "" {
		return "ollama"
	}
	return "mock"
}

type strippingClient struct {
	inner       Client
	open, close string
}

func (c *strippingClient) Stream(ctx context.Context, req Request) (Stream, error) {
	s, err := c.inner.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return StripReasoning(s, c.open, c.close), nil
}

func (c *strippingClient) Name() string { return c.inner.Name() }

func withPrefix(prefix, prompt string) string {
	if prefix == "" {
		return prompt
	}
	return prefix + prompt
}
