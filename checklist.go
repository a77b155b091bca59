package serial

import (
	"strings"
	"time"
)

// Checklist is a set of substrings a board must print. When Ordered is set the
// lines must appear in sequence; otherwise any order is accepted. Forbidden
// substrings fail the check wherever they occur in the captured output.
type Checklist struct {
	Lines     []string
	Forbidden []string
	Ordered   bool
	Timeout   time.Duration // per line, incremental strategy only
}

// Result is the outcome of applying a Checklist to console output.
type Result struct {
	Passed    bool
	Missing   []string
	Forbidden []string
	Output    string
}

// Check applies the checklist to a complete capture.
func (c Checklist) Check(text string) Result {
	res := Result{Output: text}
	if c.Ordered {
		rest := text
		for i, line := range c.Lines {
			pos := strings.Index(rest, line)
			if pos < 0 {
				res.Missing = append(res.Missing, c.Lines[i:]...)
				break
			}
			rest = rest[pos+len(line):]
		}
	} else {
		for _, line := range c.Lines {
			if !strings.Contains(text, line) {
				res.Missing = append(res.Missing, line)
			}
		}
	}
	res.Forbidden = c.forbiddenIn(text)
	res.Passed = len(res.Missing) == 0 && len(res.Forbidden) == 0
	return res
}

// Verify applies the checklist to the live stream, waiting up to Timeout for
// each line. Ordered checklists stop at the first line that does not appear.
// The returned error is a source failure, not a mismatch.
func (c Checklist) Verify(m *Matcher) (Result, error) {
	var (
		out strings.Builder
		err error
		res Result
	)
	if c.Ordered {
		res.Missing, err = c.verifyOrdered(m, &out)
	} else {
		res.Missing, err = c.verifyUnordered(m, &out)
	}
	res.Output = out.String()
	res.Forbidden = c.forbiddenIn(res.Output)
	res.Passed = err == nil && len(res.Missing) == 0 && len(res.Forbidden) == 0
	return res, err
}

func (c Checklist) verifyOrdered(m *Matcher, out *strings.Builder) ([]string, error) {
	for i, line := range c.Lines {
		idx, got, err := m.Expect([]string{line}, c.Timeout)
		out.WriteString(Decode(got))
		if err != nil {
			return c.Lines[i:], err
		}
		if idx == Timeout {
			return c.Lines[i:], nil
		}
	}
	return nil, nil
}

func (c Checklist) verifyUnordered(m *Matcher, out *strings.Builder) ([]string, error) {
	pending := append([]string(nil), c.Lines...)
	for {
		pending = without(pending, out.String())
		if len(pending) == 0 {
			return nil, nil
		}
		idx, got, err := m.Expect(pending, c.Timeout)
		out.WriteString(Decode(got))
		if err != nil {
			return without(pending, out.String()), err
		}
		if idx == Timeout {
			return without(pending, out.String()), nil
		}
	}
}

func (c Checklist) forbiddenIn(text string) []string {
	var found []string
	for _, f := range c.Forbidden {
		if strings.Contains(text, f) {
			found = append(found, f)
		}
	}
	return found
}

// without returns the lines not yet present in text.
func without(lines []string, text string) []string {
	var rest []string
	for _, l := range lines {
		if !strings.Contains(text, l) {
			rest = append(rest, l)
		}
	}
	return rest
}
