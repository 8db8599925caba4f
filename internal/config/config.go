package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile  = "config.yaml"
	DefaultGeminiModel = "gemini-2.5-flash"
)

type Config struct {
	AI          AIConfig          `mapstructure:"ai"`
	Application ApplicationConfig `mapstructure:"application"`
	Database    DatabaseConfig    `mapstructure:"database"`

	// File is the config file the values were read from, empty if none was found.
	File string `mapstructure:"-"`
}

type ApplicationConfig struct {
	Name        string        `mapstructure:"name"`
	Version     string        `mapstructure:"version"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	LogLevel    string        `mapstructure:"log_level"`
	SessionIdle time.Duration `mapstructure:"session_idle"`
}

func (c *ApplicationConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AIConfig struct {
	ActiveProvider string                      `mapstructure:"active_provider"`
	Timeout        time.Duration               `mapstructure:"timeout"`
	Providers      map[string]ProviderSettings `mapstructure:"providers"`
}

// Active returns the settings of the active provider with the driver
// defaulted to the provider name.
func (c *AIConfig) Active() ProviderSettings {
	s := c.Providers[c.ActiveProvider]
	if s.Driver == "" {
		s.Driver = c.ActiveProvider
	}
	return s
}

type ProviderSettings struct {
	Driver string `mapstructure:"driver"` // gemini, mock
	Key    string `mapstructure:"key"`
	Model  string `mapstructure:"model"`
	// Temperature is nil when unset, leaving the model default.
	Temperature *float64 `mapstructure:"temperature"`
	MaxTokens   int      `mapstructure:"max_tokens"`
}

// Equal compares settings by value, including the temperature.
func (s ProviderSettings) Equal(o ProviderSettings) bool {
	if (s.Temperature == nil) != (o.Temperature == nil) {
		return false
	}
	if s.Temperature != nil && *s.Temperature != *o.Temperature {
		return false
	}
	return s.Driver == o.Driver && s.Key == o.Key && s.Model == o.Model && s.MaxTokens == o.MaxTokens
}

// MaskedKey shortens the key for display, e.g. "AIza...9xQk".
func (s ProviderSettings) MaskedKey() string {
	if len(s.Key) <= 8 {
		return strings.Repeat("*", len(s.Key))
	}
	return s.Key[:4] + "..." + s.Key[len(s.Key)-4:]
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

var (
	ErrMissingAPIKey = errors.New("gemini API key is not set (GEMINI_KEY)")
	ErrInvalidPort   = errors.New("application port must be between 1 and 65535")
)

// Validate reports configuration that would prevent the server from working.
func (c *Config) Validate() error {
	var errs []error
	if c.Application.Port <= 0 || c.Application.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	active := c.AI.Active()
	switch active.Driver {
	case "gemini":
		if active.Key == "" {
			errs = append(errs, ErrMissingAPIKey)
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown AI driver %q for provider %q", active.Driver, c.AI.ActiveProvider))
	}
	if t := active.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("ai temperature must be between 0 and 2, got %g", *t))
	}
	if c.AI.Timeout < 0 {
		errs = append(errs, fmt.Errorf("ai timeout must not be negative, got %s", c.AI.Timeout))
	}
	return errors.Join(errs...)
}

// LoadConfig reads .env, the optional config file and the environment.
// An empty path means DefaultConfigFile.
func LoadConfig(path string) (*Config, error) {
	// .env is optional; system environment variables are used otherwise.
	_ = godotenv.Load()
	return load(path)
}

func load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	// Environment variable mappings
	mappings := []struct {
		key  string
		envs []string
	}{
		{"application.host", []string{"HOST"}},
		{"application.port", []string{"PORT"}},
		{"application.log_level", []string{"LOG_LEVEL"}},
		{"application.session_idle", []string{"SESSION_IDLE"}},
		{"database.url", []string{"DB_URL"}},
		{"ai.active_provider", []string{"AI_PROVIDER"}},
		{"ai.timeout", []string{"AI_TIMEOUT"}},

		// AI Providers
		{"ai.providers.gemini.key", []string{"GEMINI_KEY", "API_KEY"}},
		{"ai.providers.gemini.model", []string{"GEMINI_MODEL"}},
	}

	for _, m := range mappings {
		if err := v.BindEnv(append([]string{m.key}, m.envs...)...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", m.key, err)
		}
	}

	// Defaults
	v.SetDefault("application.name", "PoemWeaver")
	v.SetDefault("application.host", "")
	v.SetDefault("application.port", 8080)
	v.SetDefault("application.log_level", "info")
	v.SetDefault("application.session_idle", 12*time.Hour)
	v.SetDefault("ai.active_provider", "gemini")
	v.SetDefault("ai.timeout", time.Duration(0))
	v.SetDefault("ai.providers.gemini.driver", "gemini")
	v.SetDefault("ai.providers.gemini.model", DefaultGeminiModel)
	v.SetDefault("ai.providers.mock.driver", "mock")

	file := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		file = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = file

	if cfg.AI.ActiveProvider == "" {
		cfg.AI.ActiveProvider = "gemini"
	}

	return &cfg, nil
}
