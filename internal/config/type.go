package config

import "time"

// Duration decodes TOML strings such as "30s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the hardware test suite configuration.
type Config struct {
	Serial    SerialConfig    `toml:"serial"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Demo      DemoConfig      `toml:"demo"`
	Flash     FlashConfig     `toml:"flash"`
	Container ContainerConfig `toml:"container"`
	Modbus    ModbusConfig    `toml:"modbus"`
}

type SerialConfig struct {
	Device      string   `toml:"device"`
	BaudRate    int      `toml:"baud_rate"`
	ReadTimeout Duration `toml:"read_timeout"`
	// Break length used to interrupt the running image
	BreakDuration Duration `toml:"break_duration"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

type MetricsConfig struct {
	// Node exporter textfile to write results to. Empty disables.
	TextfilePath string `toml:"textfile_path"`
}

type DemoConfig struct {
	Lines       []string `toml:"lines"`
	Ordered     bool     `toml:"ordered"`
	LineTimeout Duration `toml:"line_timeout"`
	TailTimeout Duration `toml:"tail_timeout"`
}

type FlashConfig struct {
	// hello world variant
	BootSettle   Duration `toml:"boot_settle"`
	HelloWait    Duration `toml:"hello_wait"`
	HelloBudget  int      `toml:"hello_budget"`
	HelloLine    string   `toml:"hello_line"`
	HelloTimeout Duration `toml:"hello_timeout"`

	// error prefix variants
	ErrorWait    Duration `toml:"error_wait"`
	ErrorBudget  int      `toml:"error_budget"`
	ErrorTimeout Duration `toml:"error_timeout"`
	ErrorPrefix  string   `toml:"error_prefix"`
	ShortHello   string   `toml:"short_hello_line"`
}

type ContainerConfig struct {
	Name           string   `toml:"name"`
	Image          string   `toml:"image"`
	Capabilities   string   `toml:"capabilities"`
	Prompt         string   `toml:"prompt"`
	CommandTimeout Duration `toml:"command_timeout"`
	ExpectedLine   string   `toml:"expected_line"`
	CreateFailure  string   `toml:"create_failure"`
}

type ModbusConfig struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	SlaveID         byte     `toml:"slave_id"`
	Timeout         Duration `toml:"timeout"`
	StartupDelay    Duration `toml:"startup_delay"`
	Settle          Duration `toml:"settle"`
	Ping            bool     `toml:"ping"`
	ControlRegister uint16   `toml:"control_register"`
	CounterRegister uint16   `toml:"counter_register"`
	ControlWrites   []uint16 `toml:"control_writes"`
}
