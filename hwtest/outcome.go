package hwtest

import (
	"errors"
	"fmt"

	serial "github.com/luhtfiimanal/ocre-hwtest"
)

var (
	// ErrDeviceUnavailable means the serial device could not be opened. It is
	// never retried.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrTimeout means the board did not print what was expected in time.
	ErrTimeout = errors.New("timed out waiting for output")
	// ErrMismatch means the captured output did not satisfy the checks.
	ErrMismatch = errors.New("output mismatch")
)

// Status is the final state of a test case run.
type Status int

const (
	Pass Status = iota
	Fail
	Fatal
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome is what a test case hands back to the runner.
type Outcome struct {
	Status Status
	// Section overrides the report heading ("Entire" on pass, "Failed" otherwise).
	Section string
	Output  string
	Err     error
}

// ExitCode maps the outcome to the process exit status a CI runner reads.
func (o Outcome) ExitCode() int {
	if o.Status == Pass {
		return 0
	}
	return 1
}

// Passed returns a passing outcome carrying output.
func Passed(output string) Outcome {
	return Outcome{Status: Pass, Output: output}
}

// Failed returns a failing outcome carrying the partial output captured so far.
func Failed(output string, err error) Outcome {
	return Outcome{Status: Fail, Output: output, Err: err}
}

// Checked turns a checklist result into an outcome.
func Checked(res serial.Result, err error) Outcome {
	switch {
	case err != nil:
		return Failed(res.Output, err)
	case len(res.Missing) > 0 && len(res.Forbidden) > 0:
		return Failed(res.Output, fmt.Errorf("%w: missing %q, found forbidden %q", ErrMismatch, res.Missing, res.Forbidden))
	case len(res.Missing) > 0:
		return Failed(res.Output, fmt.Errorf("%w: missing %q", ErrMismatch, res.Missing))
	case len(res.Forbidden) > 0:
		return Failed(res.Output, fmt.Errorf("%w: found forbidden %q", ErrMismatch, res.Forbidden))
	default:
		return Passed(res.Output)
	}
}
