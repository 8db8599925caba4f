package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HOST", "PORT", "LOG_LEVEL", "SESSION_IDLE", "DB_URL", "AI_PROVIDER", "AI_TIMEOUT", "GEMINI_KEY", "API_KEY", "GEMINI_MODEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, 8080, cfg.Application.Port)
	assert.Equal(t, "info", cfg.Application.LogLevel)
	assert.Equal(t, 12*time.Hour, cfg.Application.SessionIdle)
	assert.Equal(t, "gemini", cfg.AI.ActiveProvider)
	assert.Equal(t, time.Duration(0), cfg.AI.Timeout)
	assert.Equal(t, DefaultGeminiModel, cfg.AI.Active().Model)
	assert.False(t, cfg.Database.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("GEMINI_KEY", "gem-key")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")
	t.Setenv("AI_TIMEOUT", "45s")
	t.Setenv("DB_URL", "postgres://localhost/poems")

	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Application.Port)
	assert.Equal(t, ":9090", cfg.Application.Addr())
	assert.Equal(t, "gem-key", cfg.AI.Active().Key)
	assert.Equal(t, "gemini-2.5-pro", cfg.AI.Active().Model)
	assert.Equal(t, 45*time.Second, cfg.AI.Timeout)
	assert.True(t, cfg.Database.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_APIKeyAlias(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEY", "alias-key")

	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "alias-key", cfg.AI.Active().Key)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
application:
  port: 7070
  log_level: debug
ai:
  active_provider: offline
  providers:
    offline:
      driver: mock
      model: mock-1
`), 0o644))

	cfg, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, 7070, cfg.Application.Port)
	assert.Equal(t, "debug", cfg.Application.LogLevel)
	active := cfg.AI.Active()
	assert.Equal(t, "mock", active.Driver)
	assert.Equal(t, "mock-1", active.Model)
	assert.Nil(t, active.Temperature)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ExplicitZeroTemperature(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ai:
  active_provider: mock
  providers:
    mock:
      driver: mock
      temperature: 0
`), 0o644))

	cfg, err := load(path)
	require.NoError(t, err)
	active := cfg.AI.Active()
	require.NotNil(t, active.Temperature)
	assert.Equal(t, 0.0, *active.Temperature)
	assert.NoError(t, cfg.Validate())

	hot := 3.5
	cfg.AI.Providers["mock"] = ProviderSettings{Driver: "mock", Temperature: &hot}
	assert.ErrorContains(t, cfg.Validate(), "temperature")
}

func TestProviderSettings_Equal(t *testing.T) {
	a, b := 0.0, 0.0
	warm := 0.7
	assert.True(t, ProviderSettings{Model: "m", Temperature: &a}.Equal(ProviderSettings{Model: "m", Temperature: &b}))
	assert.False(t, ProviderSettings{Model: "m", Temperature: &a}.Equal(ProviderSettings{Model: "m"}))
	assert.False(t, ProviderSettings{Temperature: &a}.Equal(ProviderSettings{Temperature: &warm}))
	assert.True(t, ProviderSettings{Model: "m"}.Equal(ProviderSettings{Model: "m"}))
}

func TestLoad_MalformedFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("application: [unclosed"), 0o644))

	_, err := load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Application: ApplicationConfig{Port: 8080},
		AI: AIConfig{
			ActiveProvider: "gemini",
			Providers:      map[string]ProviderSettings{"gemini": {Driver: "gemini"}},
		},
	}
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)

	cfg.Application.Port = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidPort)

	cfg.Application.Port = 8080
	cfg.AI.ActiveProvider = "openai"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown AI driver "openai"`)

	cfg.AI.ActiveProvider = "mock"
	assert.NoError(t, cfg.Validate())
}

func TestMaskedKey(t *testing.T) {
	assert.Equal(t, "AIza...9xQk", ProviderSettings{Key: "AIzaSyB-secret-9xQk"}.MaskedKey())
	assert.Equal(t, "****", ProviderSettings{Key: "abcd"}.MaskedKey())
	assert.Equal(t, "", ProviderSettings{}.MaskedKey())
}
