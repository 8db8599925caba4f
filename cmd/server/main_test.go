package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gnemet/PoemWeaver/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		checkTheme = ""
		portOverride = 0
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCheck_MockProvider(t *testing.T) {
	t.Setenv("AI_PROVIDER", "")
	path := writeConfig(t, `
ai:
  active_provider: offline
  providers:
    offline:
      driver: mock
      model: mock-1
`)

	out, err := execute(t, "check", "--config", path, "--theme", "autumn")
	require.NoError(t, err)
	assert.Contains(t, out, "Active Provider: offline (Driver: mock)")
	assert.Contains(t, out, "Model: mock-1")
	assert.Contains(t, out, `Sending prompt: "Generate a 1-2 sentence poem about autumn"`)
	assert.Contains(t, out, "Response (")
}

func TestCheck_MissingKey(t *testing.T) {
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("GEMINI_KEY", "")
	t.Setenv("API_KEY", "")
	path := writeConfig(t, "ai:\n  active_provider: gemini\n")

	_, err := execute(t, "check", "--config", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)
}

func TestLoadConfig_PortOverride(t *testing.T) {
	t.Setenv("AI_PROVIDER", "mock")
	configPath = filepath.Join(t.TempDir(), "missing.yaml")
	portOverride = 9191
	t.Cleanup(func() {
		configPath = config.DefaultConfigFile
		portOverride = 0
	})

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Application.Port)
	assert.Empty(t, cfg.File)
}
