package inference

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// MockClient streams a deterministic reply word by word when no backend is
// configured.
type MockClient struct {
	Delay time.Duration
}

func NewMockClient() *MockClient {
	return &MockClient{Delay: 40 * time.Millisecond}
}

func (c *MockClient) Name() string { return "mock" }

func (c *MockClient) Stream(ctx context.Context, req Request) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return NewSliceStream(ctx, splitWords(buildMockReply(req)), c.Delay), nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.Prompt)
	if base == "" {
		base = "(empty prompt)"
	}
	return fmt.Sprintf("<think>echoing the prompt</think>You asked: %s", base)
}

// splitWords keeps the separating spaces so the fragments concatenate back
// to the original text.
func splitWords(text string) []string {
	var out []string
	start := 0
	for i := 1; i < len(text); i++ {
		if text[i] == ' ' {
			out = append(out, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// SliceStream replays fixed fragments, optionally paced by delay.
type SliceStream struct {
	ctx       context.Context
	fragments []string
	delay     time.Duration
	next      int
	closed    bool
}

func NewSliceStream(ctx context.Context, fragments []string, delay time.Duration) *SliceStream {
	return &SliceStream{ctx: ctx, fragments: fragments, delay: delay}
}

func (s *SliceStream) Next() (string, error) {
	if s.closed {
		return "", io.EOF
	}
	if s.next >= len(s.fragments) {
		return "", io.EOF
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return "", s.ctx.Err()
		case <-t.C:
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}
	f := s.fragments[s.next]
	s.next++
	return f, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
