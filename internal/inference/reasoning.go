package inference

import (
	"errors"
	"io"
	"strings"
	"unicode"
)

// reasoningStream removes open...close blocks from a fragment stream. A marker
// may be split across any number of fragments, so a tail that could still
// become a marker is held back until the next fragment decides it.
type reasoningStream struct {
	inner       Stream
	open, close string

	inside   bool
	stripped bool
	emitted  bool
	pending  string
	eof      bool
}

// StripReasoning wraps inner so that reasoning blocks never reach the caller.
// An unterminated block at end of stream is dropped. Whitespace between a
// removed block and the first visible text is dropped with it.
func StripReasoning(inner Stream, open, close string) Stream {
	if open == "" || close == "" {
		return inner
	}
	return &reasoningStream{inner: inner, open: open, close: close}
}

func (s *reasoningStream) Next() (string, error) {
	for {
		if s.eof {
			return "", io.EOF
		}
		frag, err := s.inner.Next()
		if errors.Is(err, io.EOF) {
			s.eof = true
			if out := s.finish(); out != "" {
				return out, nil
			}
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if out := s.consume(frag); out != "" {
			return out, nil
		}
	}
}

func (s *reasoningStream) Close() error {
	return s.inner.Close()
}

func (s *reasoningStream) consume(frag string) string {
	buf := s.pending + frag
	s.pending = ""

	var b strings.Builder
	for {
		if s.inside {
			i := strings.Index(buf, s.close)
			if i < 0 {
				s.pending = buf[len(buf)-partialMarkerLen(buf, s.close):]
				break
			}
			buf = buf[i+len(s.close):]
			s.inside = false
			continue
		}
		i := strings.Index(buf, s.open)
		if i < 0 {
			keep := partialMarkerLen(buf, s.open)
			b.WriteString(buf[:len(buf)-keep])
			s.pending = buf[len(buf)-keep:]
			break
		}
		b.WriteString(buf[:i])
		buf = buf[i+len(s.open):]
		s.inside = true
		s.stripped = true
	}
	return s.visible(b.String())
}

func (s *reasoningStream) finish() string {
	out := ""
	if !s.inside {
		out = s.pending
	}
	s.pending = ""
	return s.visible(out)
}

func (s *reasoningStream) visible(out string) string {
	if !s.emitted && s.stripped {
		out = strings.TrimLeftFunc(out, unicode.IsSpace)
	}
	if out != "" {
		s.emitted = true
	}
	return out
}

// partialMarkerLen is the length of the longest proper prefix of marker that
// buf ends with.
func partialMarkerLen(buf, marker string) int {
	n := len(marker) - 1
	if n > len(buf) {
		n = len(buf)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(buf, marker[:n]) {
			return n
		}
	}
	return 0
}
