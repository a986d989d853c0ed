package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/promptqueue/internal/reliability"
)

// OllamaClient streams completions from an Ollama-style /api/generate endpoint.
type OllamaClient struct {
	url    string
	model  string
	prefix string
	client *http.Client
	retry  reliability.Policy
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// generateRecord is one NDJSON line of the response body.
type generateRecord struct {
	Response   string `json:"response"`
	Model      string `json:"model,omitempty"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NewOllamaClient(url, model, prefix string) *OllamaClient {
	return &OllamaClient{
		url:    strings.TrimSpace(url),
		model:  strings.TrimSpace(model),
		prefix: prefix,
		// No client timeout: a slow backend only holds its own slot.
		client: &http.Client{},
		retry:  reliability.Policy{Base: 250 * time.Millisecond, Cap: 2 * time.Second},
	}
}

// SetConnectRetries bounds how often a failed connection or a retryable
// status (429, 5xx) is retried. Once the body starts streaming nothing is
// retried.
func (c *OllamaClient) SetConnectRetries(n int) {
	if n < 0 {
		n = 0
	}
	c.retry.Retries = n
}

func (c *OllamaClient) Name() string { return "ollama" }

func (c *OllamaClient) Stream(ctx context.Context, req Request) (Stream, error) {
	payload, err := json.Marshal(generateRequest{
		Prompt: withPrefix(c.prefix, req.Prompt),
		Model:  c.model,
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	res, err := reliability.Retry(ctx, c.retry, func(attempt int) (*http.Response, bool, error) {
		return c.post(ctx, payload, attempt)
	})
	if err != nil {
		cancel()
		return nil, err
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &ndjsonStream{body: res.Body, scanner: scanner, cancel: cancel}, nil
}

func (c *OllamaClient) post(ctx context.Context, payload []byte, attempt int) (*http.Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, fmt.Errorf("%w: send request: %v", ErrBackendStream, err)
		}
		if attempt < c.retry.Retries {
			log.Printf("inference: ollama connect attempt %d failed: %v", attempt+1, err)
		}
		return nil, true, fmt.Errorf("%w: send request: %v", ErrBackendStream, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		_ = res.Body.Close()
		retryable := reliability.IsRetryableHTTPStatus(res.StatusCode)
		if retryable && attempt < c.retry.Retries {
			log.Printf("inference: ollama attempt %d got status %d, retrying", attempt+1, res.StatusCode)
		}
		return nil, retryable, fmt.Errorf("%w: ollama http status %d: %s", ErrBackendStream, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return res, false, nil
}

type ndjsonStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	done    bool
}

func (s *ndjsonStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec generateRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return "", fmt.Errorf("%w: decode record: %v", ErrBackendStream, err)
		}
		if rec.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrBackendStream, rec.Error)
		}
		if rec.Done {
			s.done = true
			if rec.Response != "" {
				return rec.Response, nil
			}
			return "", io.EOF
		}
		return rec.Response, nil
	}
	if err := s.scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: stream read: %v", ErrBackendStream, err)
	}
	return "", fmt.Errorf("%w: stream ended without done record: %w", ErrBackendStream, io.ErrUnexpectedEOF)
}

func (s *ndjsonStream) Close() error {
	s.cancel()
	return s.body.Close()
}
