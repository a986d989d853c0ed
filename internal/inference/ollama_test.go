package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func drain(t *testing.T, s Stream) ([]string, error) {
	t.Helper()
	var out []string
	for {
		frag, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if frag != "" {
			out = append(out, frag)
		}
	}
}

func TestOllamaClientStreamsFragments(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"response":"Hel","done":false}`+"\n")
		_, _ = io.WriteString(w, "\n")
		_, _ = io.WriteString(w, `{"response":"lo","done":false}`+"\n")
		_, _ = io.WriteString(w, `{"response":"","done":true,"done_reason":"stop"}`+"\n")
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "deepseek-r1:7b", "Please respond only in English.\n\n")
	s, err := c.Stream(context.Background(), Request{ID: "r1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	frags, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain error = %v", err)
	}
	if strings.Join(frags, "") != "Hello" {
		t.Fatalf("text = %q, want %q", strings.Join(frags, ""), "Hello")
	}
	if !got.Stream || got.Model != "deepseek-r1:7b" {
		t.Fatalf("request = %+v, want streaming deepseek-r1:7b", got)
	}
	if got.Prompt != "Please respond only in English.\n\nhi" {
		t.Fatalf("prompt = %q, want prefixed prompt", got.Prompt)
	}
}

func TestOllamaClientNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, "missing", "").Stream(context.Background(), Request{Prompt: "hi"})
	if !errors.Is(err, ErrBackendStream) {
		t.Fatalf("Stream() error = %v, want ErrBackendStream", err)
	}
}

func TestOllamaClientRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"response":"ok","done":false}`+"\n"+`{"response":"","done":true}`+"\n")
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "m", "")
	c.SetConnectRetries(2)
	c.retry.Base = time.Millisecond
	c.retry.Cap = time.Millisecond
	s, err := c.Stream(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()
	frags, err := drain(t, s)
	if err != nil {
		t.Fatalf("drain() error = %v", err)
	}
	if strings.Join(frags, "") != "ok" {
		t.Fatalf("text = %q, want ok", strings.Join(frags, ""))
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestOllamaClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "m", "")
	c.SetConnectRetries(3)
	_, err := c.Stream(context.Background(), Request{Prompt: "hi"})
	if !errors.Is(err, ErrBackendStream) {
		t.Fatalf("Stream() error = %v, want ErrBackendStream", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestOllamaClientTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"response":"partial","done":false}`+"\n")
	}))
	defer srv.Close()

	s, err := NewOllamaClient(srv.URL, "m", "").Stream(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	frags, err := drain(t, s)
	if !errors.Is(err, ErrBackendStream) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("drain error = %v, want ErrBackendStream wrapping io.ErrUnexpectedEOF", err)
	}
	if len(frags) != 1 || frags[0] != "partial" {
		t.Fatalf("fragments = %v, want [partial]", frags)
	}
}

func TestOllamaClientErrorRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"out of memory"}`+"\n")
	}))
	defer srv.Close()

	s, err := NewOllamaClient(srv.URL, "m", "").Stream(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	if _, err := s.Next(); !errors.Is(err, ErrBackendStream) {
		t.Fatalf("Next() error = %v, want ErrBackendStream", err)
	}
}
