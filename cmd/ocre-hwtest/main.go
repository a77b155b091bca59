// Runs one Ocre hardware acceptance test against a board on a serial line and
// exits 0 on pass, 1 otherwise.
//
//	ocre-hwtest --device /dev/ttyACM0 demo
//	ocre-hwtest --config hwtest.toml container setup
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	serial "github.com/luhtfiimanal/ocre-hwtest"
	"github.com/luhtfiimanal/ocre-hwtest/hwtest"
	"github.com/luhtfiimanal/ocre-hwtest/hwtest/cases"
	"github.com/luhtfiimanal/ocre-hwtest/internal/config"
	"github.com/luhtfiimanal/ocre-hwtest/internal/logging"
	"github.com/luhtfiimanal/ocre-hwtest/internal/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// flags are the command line overrides applied on top of the config file.
type flags struct {
	configPath  string
	device      string
	baudRate    int
	logLevel    string
	logFormat   string
	metricsFile string
}

func (f *flags) apply(cfg *config.Config) {
	if f.device != "" {
		cfg.Serial.Device = f.device
	}
	if f.baudRate != 0 {
		cfg.Serial.BaudRate = f.baudRate
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	if f.metricsFile != "" {
		cfg.Metrics.TextfilePath = f.metricsFile
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	var (
		f        flags
		exitCode int
	)

	runCase := func(name string) error {
		build, ok := cases.Lookup(name)
		if !ok {
			return fmt.Errorf("unknown test case %q", name)
		}
		cfg, err := config.Load(f.configPath)
		if err != nil {
			return err
		}
		f.apply(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		if err != nil {
			return err
		}
		defer log.Sync()

		rec := metrics.NewRecorder(cfg.Metrics.TextfilePath)
		runner := &hwtest.Runner{
			Config: serial.Config{
				Device:      cfg.Serial.Device,
				BaudRate:    cfg.Serial.BaudRate,
				ReadTimeout: cfg.Serial.ReadTimeout.Duration,
			},
			Log:     log,
			Out:     stdout,
			Metrics: rec,
		}
		out := runner.Run(build(cfg, cases.Options{}))
		exitCode = out.ExitCode()

		if err := rec.Flush(); err != nil {
			log.Warn("writing metrics", zap.String("path", cfg.Metrics.TextfilePath), zap.Error(err))
		}
		return nil
	}

	caseCmd := func(use, name, short string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCase(name)
			},
		}
	}

	root := &cobra.Command{
		Use:           "ocre-hwtest",
		Short:         "Ocre hardware acceptance tests over a serial line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "TOML config file (default $"+config.EnvConfigPath+")")
	pf.StringVar(&f.device, "device", "", "serial device path")
	pf.IntVar(&f.baudRate, "baud", 0, "serial baud rate")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&f.logFormat, "log-format", "", "console or json")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "node exporter textfile to write results to")

	container := &cobra.Command{
		Use:   "container",
		Short: "Container lifecycle tests",
	}
	container.AddCommand(
		caseCmd("setup", "container-setup", "Create the test container from its wasm image"),
		caseCmd("start", "container-start", "Start the test container and check its output"),
		caseCmd("clean", "container-clean", "Remove the test container if present"),
	)

	list := &cobra.Command{
		Use:   "list",
		Short: "List the available test cases",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(stdout, strings.Join(cases.Names(), "\n"))
		},
	}

	root.AddCommand(
		caseCmd("demo", "demo", "Run the default demo and check its output lines"),
		caseCmd("flash-hello-world", "flash-hello-world", "Check the hello world banner after a reset"),
		caseCmd("flash-errors", "flash-errors", "Check no error lines are printed after a reset"),
		caseCmd("flash-hello-world-errors", "flash-hello-world-errors", "Check the banner and no errors after a reset"),
		caseCmd("modbus", "modbus", "Exercise the board's Modbus/TCP server"),
		container,
		list,
	)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return exitCode
}
