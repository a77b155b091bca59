package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvConfigPath names the config file when no path is given explicitly.
const EnvConfigPath = "OCRE_HWTEST_CONFIG"

// Default returns the configuration of the reference bench: a board on
// /dev/ttyACM0 running the stock demo and Modbus samples.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Device:        "/dev/ttyACM0",
			BaudRate:      115200,
			ReadTimeout:   Duration{10 * time.Second},
			BreakDuration: Duration{time.Second},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Demo: DemoConfig{
			Lines: []string{
				"powered by Ocre",
				"Generic blinking started.",
				"Container exited with status 0",
				"Subscriber initialized",
				"Publisher initialized",
				"Subscriber exited with status 0",
				"Publisher exited with status 0",
				"Demo completed successfully",
			},
			Ordered:     true,
			LineTimeout: Duration{30 * time.Second},
			TailTimeout: Duration{10 * time.Second},
		},
		Flash: FlashConfig{
			BootSettle:   Duration{5 * time.Second},
			HelloWait:    Duration{10 * time.Second},
			HelloBudget:  2048,
			HelloLine:    "Hello World from Ocre!",
			HelloTimeout: Duration{10 * time.Second},
			ErrorWait:    Duration{time.Second},
			ErrorBudget:  1024,
			ErrorTimeout: Duration{time.Second},
			ErrorPrefix:  "E:",
			ShortHello:   "Hello World!",
		},
		Container: ContainerConfig{
			Name:           "hello-world",
			Image:          "hello-world.wasm",
			Capabilities:   "ocre:api",
			Prompt:         "ocre:~$",
			CommandTimeout: Duration{30 * time.Second},
			ExpectedLine:   "powered by Ocre",
			CreateFailure:  "Failed to create container",
		},
		Modbus: ModbusConfig{
			Host:            "ocre-b-u585i.lfedge.iol.unh.edu",
			Port:            1502,
			SlaveID:         1,
			Timeout:         Duration{10 * time.Second},
			StartupDelay:    Duration{5 * time.Second},
			Settle:          Duration{5 * time.Second},
			ControlRegister: 0,
			CounterRegister: 1,
			ControlWrites:   []uint16{1, 2, 0},
		},
	}
}

// Load reads the TOML file at path over the defaults. An empty path falls
// back to $OCRE_HWTEST_CONFIG; when both are empty the defaults are used.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no test case can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Serial.Device == "" {
		errs = append(errs, errors.New("serial.device is empty"))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate %d is invalid", c.Serial.BaudRate))
	}
	if c.Container.Prompt == "" {
		errs = append(errs, errors.New("container.prompt is empty"))
	}
	if c.Modbus.Port <= 0 || c.Modbus.Port > 65535 {
		errs = append(errs, fmt.Errorf("modbus.port %d is invalid", c.Modbus.Port))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) error {
	cfg.Serial.Device = getEnv("OCRE_DEVICE", cfg.Serial.Device)
	cfg.Modbus.Host = getEnv("OCRE_MODBUS_HOST", cfg.Modbus.Host)

	var err error
	if cfg.Serial.BaudRate, err = getEnvInt("OCRE_BAUD_RATE", cfg.Serial.BaudRate); err != nil {
		return err
	}
	if cfg.Modbus.Port, err = getEnvInt("OCRE_MODBUS_PORT", cfg.Modbus.Port); err != nil {
		return err
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
