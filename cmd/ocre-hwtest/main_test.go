package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OCRE_HWTEST_CONFIG", "OCRE_DEVICE", "OCRE_BAUD_RATE", "OCRE_MODBUS_HOST", "OCRE_MODBUS_PORT"} {
		t.Setenv(k, "")
	}
}

func TestList(t *testing.T) {
	clearEnv(t)
	var stdout bytes.Buffer
	code := run([]string{"list"}, &stdout, &bytes.Buffer{})

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "container-setup\n")
	assert.Contains(t, stdout.String(), "modbus")
}

func TestMissingDeviceIsFatal(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	prom := filepath.Join(dir, "hwtest.prom")

	code := run([]string{
		"--device", filepath.Join(dir, "ttyACM9"),
		"--log-level", "error",
		"--metrics-file", prom,
		"demo",
	}, &bytes.Buffer{}, &bytes.Buffer{})

	assert.Equal(t, 1, code)
	data, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ocre_hwtest_exit_code{case="demo"} 1`)
	assert.Contains(t, string(data), `ocre_hwtest_passed{case="demo"} 0`)
}

func TestContainerSubcommandMissingDevice(t *testing.T) {
	clearEnv(t)
	code := run([]string{"--device", filepath.Join(t.TempDir(), "tty"), "--log-level", "error", "container", "clean"},
		&bytes.Buffer{}, &bytes.Buffer{})
	assert.Equal(t, 1, code, "cleanup still fails when the device cannot be opened")
}

func TestBadConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "hwtest.toml")
	require.NoError(t, os.WriteFile(path, []byte("[serial]\nbogus = 1\n"), 0o644))

	var stderr bytes.Buffer
	code := run([]string{"--config", path, "demo"}, &bytes.Buffer{}, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unknown keys")
}

func TestBadLogLevel(t *testing.T) {
	clearEnv(t)
	var stderr bytes.Buffer
	code := run([]string{"--log-level", "loud", "demo"}, &bytes.Buffer{}, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unknown log level")
}

func TestUnknownCommand(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, 1, run([]string{"reboot"}, &bytes.Buffer{}, &bytes.Buffer{}))
}
