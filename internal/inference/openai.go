package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIClient streams chat completions from an OpenAI-compatible API
// (OpenAI itself, or Ollama's /v1 endpoint).
type OpenAIClient struct {
	client openai.Client
	model  string
	prefix string
}

func NewOpenAIClient(baseURL, apiKey, model, prefix string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  strings.TrimSpace(model),
		prefix: prefix,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Stream(ctx context.Context, req Request) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(withPrefix(c.prefix, req.Prompt)),
		},
		Model: c.model,
	}
	if req.UserID != "" {
		params.User = openai.String(req.UserID)
	}
	return &chatStream{
		stream: c.client.Chat.Completions.NewStreaming(ctx, params),
		cancel: cancel,
	}, nil
}

type chatStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cancel context.CancelFunc
}

func (s *chatStream) Next() (string, error) {
	if s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			return "", nil
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	if err := s.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrBackendStream, err)
	}
	return "", io.EOF
}

func (s *chatStream) Close() error {
	s.cancel()
	return s.stream.Close()
}
