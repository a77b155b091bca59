// Package porttest provides an in-memory board for testing code that drives
// an hwtest.Port.
package porttest

import (
	"strings"
	"sync"
	"time"

	serial "github.com/luhtfiimanal/ocre-hwtest"
)

// Port is a scripted stand-in for a board's serial console. Bytes queued with
// Feed are returned by ReadTimeout; lines written by the code under test are
// recorded and may trigger a scripted reply.
type Port struct {
	mu      sync.Mutex
	pending []byte
	notify  chan struct{}
	closed  bool

	// Respond, when set, returns the console output the board prints in
	// reply to a written line (newline stripped).
	Respond func(line string) string
	// BreakOutput is printed by the board after every break.
	BreakOutput string
	// ReadErr is returned once the pending output is exhausted.
	ReadErr  error
	BreakErr error

	Written     []string
	Breaks      []time.Duration
	InputResets int
	Closes      int
}

// New returns a Port that will print output.
func New(output ...string) *Port {
	p := &Port{notify: make(chan struct{})}
	p.Feed(output...)
	return p
}

// Feed queues console output.
func (p *Port) Feed(output ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feedLocked(strings.Join(output, ""))
}

func (p *Port) feedLocked(s string) {
	if s == "" {
		return
	}
	p.pending = append(p.pending, s...)
	close(p.notify)
	p.notify = make(chan struct{})
}

func (p *Port) ReadTimeout(b []byte, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, serial.ErrClosed
		}
		if len(p.pending) > 0 {
			n := copy(b, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()
			return n, nil
		}
		if p.ReadErr != nil {
			err := p.ReadErr
			p.mu.Unlock()
			return 0, err
		}
		wait := p.notify
		p.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return 0, nil
		}
	}
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, serial.ErrClosed
	}
	line := strings.TrimRight(string(b), "\r\n")
	p.Written = append(p.Written, line)
	if p.Respond != nil {
		p.feedLocked(p.Respond(line))
	}
	return len(b), nil
}

func (p *Port) WriteLine(line, newline string) error {
	_, err := p.Write([]byte(line + newline))
	return err
}

func (p *Port) SendBreak(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BreakErr != nil {
		return p.BreakErr
	}
	p.Breaks = append(p.Breaks, d)
	p.feedLocked(p.BreakOutput)
	return nil
}

func (p *Port) ResetInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.InputResets++
	p.pending = nil
	return nil
}

// Close counts every call so tests can assert the device is released exactly
// once.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closes++
	p.closed = true
	return nil
}
