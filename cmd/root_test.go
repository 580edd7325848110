package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetCLI restores the package globals between tests.
func resetCLI(t *testing.T) {
	t.Helper()
	prevCfgFile, prevMock := cfgFile, mockMode
	t.Cleanup(func() {
		cfgFile, mockMode = prevCfgFile, prevMock
		cfg, logger = nil, nil
	})
}

// Verifies initApp produces a fully defaulted config without any file.
func TestInitApp_Defaults(t *testing.T) {
	resetCLI(t)
	cfgFile = ""

	require.NoError(t, initApp(rootCmd, nil))
	require.NotNil(t, cfg)
	require.NotNil(t, logger)

	assert.Equal(t, 4723, cfg.Driver.Port)
	assert.Equal(t, 25, cfg.Agent.MaxSteps)
	assert.Equal(t, 12*time.Millisecond, cfg.Input.TypingInterval)
	assert.True(t, cfg.Executor.FallbackEnabled)
}

// Verifies values from an explicit config file override the defaults.
func TestInitApp_ConfigFile(t *testing.T) {
	resetCLI(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
driver:
  port: 9515
agent:
  max_steps: 7
inference:
  model: test-model
`), 0o644))
	cfgFile = path

	require.NoError(t, initApp(rootCmd, nil))
	assert.Equal(t, 9515, cfg.Driver.Port)
	assert.Equal(t, 7, cfg.Agent.MaxSteps)
	assert.Equal(t, "test-model", cfg.Inference.Model)
	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Driver.Host)
}

// Verifies environment variables override defaults under the DESKROVER prefix.
func TestInitApp_EnvOverride(t *testing.T) {
	resetCLI(t)
	cfgFile = ""
	t.Setenv("DESKROVER_AGENT_MAX_STEPS", "3")
	t.Setenv("DESKROVER_INFERENCE_MODEL", "env-model")

	require.NoError(t, initApp(rootCmd, nil))
	assert.Equal(t, 3, cfg.Agent.MaxSteps)
	assert.Equal(t, "env-model", cfg.Inference.Model)
}

// Verifies a named but missing config file is a hard error.
func TestInitApp_MissingExplicitFile(t *testing.T) {
	resetCLI(t)
	cfgFile = filepath.Join(t.TempDir(), "nope.yaml")

	assert.Error(t, initApp(rootCmd, nil))
}

// Verifies invalid configuration values are rejected at startup.
func TestInitApp_InvalidConfig(t *testing.T) {
	resetCLI(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("driver:\n  port: -1\n"), 0o644))
	cfgFile = path

	err := initApp(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver.port")
}

// Verifies the version command prints without needing configuration.
func TestVersionCommand(t *testing.T) {
	resetCLI(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "deskrover")
	assert.Contains(t, out.String(), Version)
}

// Verifies coordinate argument parsing.
func TestParsePoint(t *testing.T) {
	x, y, err := parsePoint([]string{"100", "250"})
	require.NoError(t, err)
	assert.Equal(t, 100, x)
	assert.Equal(t, 250, y)

	_, _, err = parsePoint([]string{"abc", "1"})
	assert.Error(t, err)
	_, _, err = parsePoint([]string{"1", "xyz"})
	assert.Error(t, err)
}
