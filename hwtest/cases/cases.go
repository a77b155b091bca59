// Package cases holds the Ocre hardware acceptance test cases.
package cases

import (
	"fmt"
	"sort"
	"strings"
	"time"

	serial "github.com/luhtfiimanal/ocre-hwtest"
	"github.com/luhtfiimanal/ocre-hwtest/hwtest"
	"github.com/luhtfiimanal/ocre-hwtest/internal/config"
	"github.com/luhtfiimanal/ocre-hwtest/modbuscheck"
	"go.uber.org/zap"
)

// Options carries the pieces of a case that are not in the config file.
type Options struct {
	// Dial overrides the Modbus/TCP connection, used in tests.
	Dial modbuscheck.Dialer
	// Sleep overrides fixed waits, used in tests.
	Sleep func(time.Duration)
}

func (o Options) sleep(d time.Duration) {
	if o.Sleep != nil {
		o.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Builder constructs a named case from the suite configuration.
type Builder func(cfg *config.Config, opts Options) hwtest.Case

var registry = map[string]Builder{
	"demo":                     Demo,
	"flash-hello-world":        FlashHelloWorld,
	"flash-errors":             FlashErrors,
	"flash-hello-world-errors": FlashHelloWorldErrors,
	"container-setup":          ContainerSetup,
	"container-start":          ContainerStart,
	"container-clean":          ContainerClean,
	"modbus":                   Modbus,
}

// Lookup returns the builder registered under name.
func Lookup(name string) (Builder, bool) {
	b, ok := registry[name]
	return b, ok
}

// Names lists the registered cases in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sendBreak(cfg *config.Config) func(env *hwtest.Env) error {
	return func(env *hwtest.Env) error {
		env.Log.Info("sending break", zap.Duration("duration", cfg.Serial.BreakDuration.Duration))
		return env.Port.SendBreak(cfg.Serial.BreakDuration.Duration)
	}
}

// Demo checks the default demo sample runs to completion after a break.
func Demo(cfg *config.Config, _ Options) hwtest.Case {
	demo := cfg.Demo
	return hwtest.Case{
		Name:      "demo",
		Stimulate: sendBreak(cfg),
		Verify: func(env *hwtest.Env) hwtest.Outcome {
			checklist := serial.Checklist{
				Lines:   demo.Lines,
				Ordered: demo.Ordered,
				Timeout: demo.LineTimeout.Duration,
			}
			res, err := checklist.Verify(env.Matcher)
			for _, line := range res.Missing {
				env.Log.Warn("line not found in given timeout", zap.String("line", line))
			}

			tail, terr := env.Matcher.Drain(demo.TailTimeout.Duration)
			res.Output += serial.Decode(tail)
			if err == nil {
				err = terr
			}
			return hwtest.Checked(res, err)
		},
	}
}

// bulkCheck is the fixed-wait strategy: wait, read up to budget bytes, then
// apply checklist to the whole capture.
func bulkCheck(env *hwtest.Env, wait time.Duration, budget int, timeout time.Duration, checklist serial.Checklist) hwtest.Outcome {
	env.Log.Info("reading response", zap.Duration("wait", wait), zap.Int("budget", budget))
	got, err := env.Matcher.ReadFor(wait, budget, timeout)
	res := checklist.Check(serial.Decode(got))
	return hwtest.Checked(res, err)
}

// FlashHelloWorld checks a freshly flashed runtime prints its hello world
// banner after a break.
func FlashHelloWorld(cfg *config.Config, opts Options) hwtest.Case {
	flash := cfg.Flash
	brk := sendBreak(cfg)
	return hwtest.Case{
		Name: "flash-hello-world",
		Stimulate: func(env *hwtest.Env) error {
			env.Log.Info("waiting for system to fully initialize", zap.Duration("settle", flash.BootSettle.Duration))
			opts.sleep(flash.BootSettle.Duration)
			if err := env.Port.ResetInput(); err != nil {
				return err
			}
			return brk(env)
		},
		Verify: func(env *hwtest.Env) hwtest.Outcome {
			return bulkCheck(env, flash.HelloWait.Duration, flash.HelloBudget, flash.HelloTimeout.Duration,
				serial.Checklist{Lines: []string{flash.HelloLine}})
		},
	}
}

// FlashErrors checks the board prints no error-prefixed line after a break.
func FlashErrors(cfg *config.Config, _ Options) hwtest.Case {
	flash := cfg.Flash
	return hwtest.Case{
		Name:      "flash-errors",
		Stimulate: sendBreak(cfg),
		Verify: func(env *hwtest.Env) hwtest.Outcome {
			return bulkCheck(env, flash.ErrorWait.Duration, flash.ErrorBudget, flash.ErrorTimeout.Duration,
				serial.Checklist{Forbidden: []string{flash.ErrorPrefix}})
		},
	}
}

// FlashHelloWorldErrors combines the hello world banner with the error check.
func FlashHelloWorldErrors(cfg *config.Config, _ Options) hwtest.Case {
	flash := cfg.Flash
	return hwtest.Case{
		Name:      "flash-hello-world-errors",
		Stimulate: sendBreak(cfg),
		Verify: func(env *hwtest.Env) hwtest.Outcome {
			return bulkCheck(env, flash.ErrorWait.Duration, flash.ErrorBudget, flash.ErrorTimeout.Duration,
				serial.Checklist{Lines: []string{flash.ShortHello}, Forbidden: []string{flash.ErrorPrefix}})
		},
	}
}

// awaitPrompt waits for the shell prompt that follows every command.
func awaitPrompt(env *hwtest.Env, c config.ContainerConfig) (string, bool, error) {
	idx, got, err := env.Matcher.Expect([]string{c.Prompt}, c.CommandTimeout.Duration)
	return serial.Decode(got), idx != serial.Timeout, err
}

// ContainerSetup creates the container from its wasm image on the board.
func ContainerSetup(cfg *config.Config, _ Options) hwtest.Case {
	c := cfg.Container
	return hwtest.Case{
		Name: "container-setup",
		Stimulate: func(env *hwtest.Env) error {
			return env.Command(fmt.Sprintf("ocre create -n %s -k %s %s", c.Name, c.Capabilities, c.Image))
		},
		Verify: func(env *hwtest.Env) hwtest.Outcome {
			out, ok, err := awaitPrompt(env, c)
			switch {
			case err != nil:
				return hwtest.Failed(out, err)
			case !ok:
				return hwtest.Failed(out, fmt.Errorf("%w: container %s was not created", hwtest.ErrTimeout, c.Name))
			case strings.Contains(out, c.CreateFailure):
				return hwtest.Failed(out, fmt.Errorf("%w: %s", hwtest.ErrMismatch, c.CreateFailure))
			}
			return hwtest.Passed(out)
		},
	}
}

// ContainerStart runs the container and checks what it prints.
func ContainerStart(cfg *config.Config, _ Options) hwtest.Case {
	c := cfg.Container
	return hwtest.Case{
		Name: "container-start",
		Stimulate: func(env *hwtest.Env) error {
			return env.Command("ocre start " + c.Name)
		},
		Verify: func(env *hwtest.Env) hwtest.Outcome {
			out, ok, err := awaitPrompt(env, c)
			switch {
			case err != nil:
				return hwtest.Failed(out, err)
			case !ok:
				return hwtest.Failed(out, fmt.Errorf("%w: container %s did not exit", hwtest.ErrTimeout, c.Name))
			}
			return hwtest.Checked(serial.Checklist{Lines: []string{c.ExpectedLine}}.Check(out), nil)
		},
	}
}

// ContainerClean removes the container when the board still lists it.
// Cleanup is best effort and passes unless the device cannot be opened.
func ContainerClean(cfg *config.Config, _ Options) hwtest.Case {
	c := cfg.Container
	return hwtest.Case{
		Name: "container-clean",
		Stimulate: func(env *hwtest.Env) error {
			return env.Command("ocre container ps")
		},
		Verify: func(env *hwtest.Env) hwtest.Outcome {
			out, ok, err := awaitPrompt(env, c)
			if err != nil || !ok {
				env.Log.Warn("container list did not complete", zap.Error(err))
			}
			if err == nil && strings.Contains(out, c.Name) {
				if err := env.Command("ocre rm " + c.Name); err != nil {
					env.Log.Warn("remove command failed", zap.Error(err))
				} else {
					more, ok, err := awaitPrompt(env, c)
					out += more
					if err != nil || !ok {
						env.Log.Warn("remove did not complete", zap.Error(err))
					}
				}
			}
			o := hwtest.Passed(out)
			o.Section = "Cleanup"
			return o
		},
	}
}

// Modbus starts the board's Modbus server with a break and verifies its
// registers over the network.
func Modbus(cfg *config.Config, opts Options) hwtest.Case {
	m := cfg.Modbus
	brk := sendBreak(cfg)
	checker := &modbuscheck.Checker{
		Config: modbuscheck.Config{
			Host:            m.Host,
			Port:            m.Port,
			SlaveID:         m.SlaveID,
			Timeout:         m.Timeout.Duration,
			Settle:          m.Settle.Duration,
			Ping:            m.Ping,
			ControlRegister: m.ControlRegister,
			CounterRegister: m.CounterRegister,
			ControlWrites:   m.ControlWrites,
		},
		Dial:  opts.Dial,
		Sleep: opts.Sleep,
	}
	return hwtest.Case{
		Name: "modbus",
		Stimulate: func(env *hwtest.Env) error {
			if err := env.Port.ResetInput(); err != nil {
				return err
			}
			if err := brk(env); err != nil {
				return err
			}
			env.Log.Info("waiting for modbus server", zap.Duration("delay", m.StartupDelay.Duration))
			opts.sleep(m.StartupDelay.Duration)
			return nil
		},
		Verify: func(env *hwtest.Env) hwtest.Outcome {
			checker.Log = env.Log
			rep, err := checker.Run()
			if err != nil {
				return hwtest.Failed(rep.String(), err)
			}
			return hwtest.Passed(rep.String())
		},
	}
}
