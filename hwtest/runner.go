// Package hwtest runs hardware test cases against a board on a serial line.
//
// Every case goes through the same four steps: connect to the device,
// stimulate the board with a break or a shell command, verify what it prints,
// and tear down. Teardown always runs once the device is open, so the serial
// line is released on every exit path and the next case can acquire it.
package hwtest

import (
	"fmt"
	"io"
	"os"
	"time"

	serial "github.com/luhtfiimanal/ocre-hwtest"
	"github.com/luhtfiimanal/ocre-hwtest/internal/metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Port is the part of a serial.Session a test case drives.
type Port interface {
	serial.Source
	Write(p []byte) (int, error)
	WriteLine(line, newline string) error
	SendBreak(d time.Duration) error
	ResetInput() error
	Close() error
}

// Opener acquires the device described by cfg.
type Opener func(cfg serial.Config) (Port, error)

// OpenSerial opens a real serial device.
func OpenSerial(cfg serial.Config) (Port, error) {
	s, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Env is handed to a case's Stimulate and Verify steps.
type Env struct {
	Port    Port
	Matcher *serial.Matcher
	Log     *zap.Logger
}

// Command sends one shell command line to the board.
func (e *Env) Command(line string) error {
	e.Log.Info("sending command", zap.String("command", line))
	return e.Port.WriteLine(line, "\n")
}

// Case is one verification scenario.
type Case struct {
	Name      string
	Stimulate func(env *Env) error
	Verify    func(env *Env) Outcome
}

// Runner drives a Case through connect, stimulate, verify and teardown.
type Runner struct {
	Config  serial.Config
	Open    Opener            // default OpenSerial
	Log     *zap.Logger       // default no-op
	Out     io.Writer         // runtime-output reports, default os.Stdout
	Metrics *metrics.Recorder // optional
}

// Run executes c and returns its outcome. The port is closed exactly once
// whenever it was opened.
func (r *Runner) Run(c Case) (out Outcome) {
	log := r.logger().With(zap.String("case", c.Name))
	start := time.Now()
	defer func() {
		r.Metrics.Observe(c.Name, out.ExitCode(), time.Since(start))
	}()

	open := r.Open
	if open == nil {
		open = OpenSerial
	}

	log.Info("connecting", zap.String("device", r.Config.Device))
	port, err := open(r.Config)
	if err != nil {
		log.Error("cannot open device", zap.Error(err))
		return Outcome{Status: Fatal, Err: fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)}
	}
	defer func() {
		if cerr := port.Close(); cerr != nil {
			log.Warn("closing device", zap.Error(cerr))
			out.Err = multierr.Append(out.Err, cerr)
		}
		log.Info("teardown complete",
			zap.Stringer("status", out.Status),
			zap.Int("exit_code", out.ExitCode()),
			zap.Duration("elapsed", time.Since(start)))
	}()

	env := &Env{Port: port, Matcher: serial.NewMatcher(port), Log: log}

	if c.Stimulate != nil {
		log.Info("stimulating board")
		if err := c.Stimulate(env); err != nil {
			out = Failed("", fmt.Errorf("stimulate: %w", err))
			r.report(log, out)
			return out
		}
	}

	log.Info("verifying output")
	out = c.Verify(env)
	r.report(log, out)
	return out
}

func (r *Runner) report(log *zap.Logger, out Outcome) {
	if out.Err != nil {
		log.Error("verification failed", zap.Error(out.Err))
	} else {
		log.Info("verification passed")
	}

	section := out.Section
	if section == "" {
		section = "Entire"
		if out.Status != Pass {
			section = "Failed"
		}
	}
	w := r.Out
	if w == nil {
		w = os.Stdout
	}
	Report(w, out.Output, section)
}

func (r *Runner) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

// Report prints captured board output between banner lines.
func Report(w io.Writer, output, section string) {
	fmt.Fprintf(w, "\n========== %s runtime output ==========\n%s\n==========--------------------------==========\n\n", section, output)
}
