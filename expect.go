package serial

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Timeout is the index Expect reports when no pattern appeared in time.
const Timeout = -1

// Source is the read side of a Session as seen by a Matcher.
type Source interface {
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
}

// Matcher is a read-ahead buffer over a Source. Expect blocks until one of a
// set of substrings appears; ReadFor implements the fixed-wait bulk read.
// Bytes received past a match stay buffered for the next call.
type Matcher struct {
	src   Source
	buf   []byte
	chunk []byte
}

// NewMatcher returns a Matcher reading from src.
func NewMatcher(src Source) *Matcher {
	return &Matcher{src: src, chunk: make([]byte, 4096)}
}

// Buffered returns the number of bytes read from the source but not yet
// consumed.
func (m *Matcher) Buffered() int {
	return len(m.buf)
}

// Expect scans the stream until one of patterns is found or timeout elapses.
// It returns the index of the pattern that matched first in the stream
// (lowest index on a tie) together with every byte consumed up to the end of
// the match. On timeout it returns Timeout and everything consumed so far.
// A source error is returned alongside the bytes already consumed.
func (m *Matcher) Expect(patterns []string, timeout time.Duration) (int, []byte, error) {
	if len(patterns) == 0 {
		return Timeout, nil, errors.New("expect: no patterns")
	}
	for _, p := range patterns {
		if p == "" {
			return Timeout, nil, errors.New("expect: empty pattern")
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		if idx, end := search(m.buf, patterns); idx >= 0 {
			return idx, m.take(end), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Timeout, m.take(len(m.buf)), nil
		}

		n, err := m.src.ReadTimeout(m.chunk, remaining)
		m.buf = append(m.buf, m.chunk[:n]...)
		if err != nil {
			if idx, end := search(m.buf, patterns); idx >= 0 {
				return idx, m.take(end), nil
			}
			return Timeout, m.take(len(m.buf)), err
		}
	}
}

// Drain consumes everything that arrives until timeout elapses and returns it
// together with any bytes already buffered. Reading stops early on a source
// error, which is returned with the data collected.
func (m *Matcher) Drain(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return m.take(len(m.buf)), nil
		}
		n, err := m.src.ReadTimeout(m.chunk, remaining)
		m.buf = append(m.buf, m.chunk[:n]...)
		if err != nil {
			return m.take(len(m.buf)), err
		}
	}
}

// ReadFor sleeps for wait, then reads until n bytes are collected or timeout
// elapses, whichever comes first. It never returns more than n bytes; any
// surplus stays buffered.
func (m *Matcher) ReadFor(wait time.Duration, n int, timeout time.Duration) ([]byte, error) {
	if wait > 0 {
		time.Sleep(wait)
	}
	deadline := time.Now().Add(timeout)
	for len(m.buf) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		got, err := m.src.ReadTimeout(m.chunk, remaining)
		m.buf = append(m.buf, m.chunk[:got]...)
		if err != nil {
			return m.take(min(n, len(m.buf))), err
		}
	}
	return m.take(min(n, len(m.buf))), nil
}

func (m *Matcher) take(n int) []byte {
	out := make([]byte, n)
	copy(out, m.buf[:n])
	m.buf = append(m.buf[:0], m.buf[n:]...)
	return out
}

// search returns the index of the pattern starting earliest in buf and the
// offset just past it, or -1 when none is present.
func search(buf []byte, patterns []string) (int, int) {
	text := string(buf)
	best, bestPos := -1, -1
	for i, p := range patterns {
		pos := strings.Index(text, p)
		if pos < 0 {
			continue
		}
		if best < 0 || pos < bestPos {
			best, bestPos = i, pos
		}
	}
	if best < 0 {
		return -1, 0
	}
	return best, bestPos + len(patterns[best])
}

// Decode turns captured console bytes into text. Invalid UTF-8 sequences are
// replaced with U+FFFD rather than treated as an error.
func Decode(b []byte) string {
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}
