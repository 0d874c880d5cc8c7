// Package config loads the single configuration object that is built at
// start-up and handed to every component.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joelkehle/discharge-docs/internal/record"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	LogPretty   bool           `mapstructure:"log_pretty"`
	PromptDir   string         `mapstructure:"prompt_dir"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	LLM         LLMConfig      `mapstructure:"llm"`
	Deduce      DeduceConfig   `mapstructure:"deduce"`
	APIKeys     APIKeys        `mapstructure:"api_keys"`
	Telemetry   Telemetry      `mapstructure:"telemetry"`
	// Departments maps a department code to its record filter. Keys are
	// upper-cased after loading.
	Departments map[string]Department `mapstructure:"departments"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LLMConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	// Deployments maps an environment (acc, prod, bulk) to a deployment name.
	Deployments    map[string]string `mapstructure:"deployments"`
	ContextLengths map[string]int    `mapstructure:"context_lengths"`
	// Models maps a deployment name to the Anthropic model id.
	Models    map[string]string `mapstructure:"models"`
	MaxTokens int64             `mapstructure:"max_tokens"`
	APIKey    string            `mapstructure:"api_key"`
}

type DeduceConfig struct {
	// URL of a remote de-identification service; empty uses the built-in
	// pattern matcher.
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// APIKeys guard the endpoint groups. An empty key disables the check.
type APIKeys struct {
	Generate string `mapstructure:"generate"`
	Retrieve string `mapstructure:"retrieve"`
	Feedback string `mapstructure:"feedback"`
	Remove   string `mapstructure:"remove"`
	HiX      string `mapstructure:"hix"`
}

type Telemetry struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

type Department struct {
	AllowedLabels []string `mapstructure:"allowed_labels"`
}

// Load reads path (or ./config.toml when path is empty and the file
// exists) and applies DISCHARGE_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DISCHARGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Secrets keep the names used by the deployment environment.
	_ = v.BindEnv("environment", "ENVIRONMENT", "DISCHARGE_ENVIRONMENT")
	_ = v.BindEnv("llm.api_key", "ANTHROPIC_API_KEY", "DISCHARGE_LLM_API_KEY")
	_ = v.BindEnv("database.dsn", "DATABASE_URL", "DISCHARGE_DATABASE_DSN")
	_ = v.BindEnv("api_keys.generate", "X_API_KEY_GENERATE")
	_ = v.BindEnv("api_keys.retrieve", "X_API_KEY_RETRIEVE")
	_ = v.BindEnv("api_keys.feedback", "X_API_KEY_FEEDBACK")
	_ = v.BindEnv("api_keys.remove", "X_API_KEY_REMOVE")
	_ = v.BindEnv("api_keys.hix", "X_API_KEY_HIX")
	_ = v.BindEnv("telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "acc")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "discharge-docs.db")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.deployments", map[string]string{
		"acc":  "aiva-gpt4",
		"prod": "aiva-gpt4",
		"bulk": "aiva-gpt4-new",
	})
	v.SetDefault("deduce.timeout", 30*time.Second)
	v.SetDefault("telemetry.service_name", "discharge-docs")
}

func (c *Config) normalize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if len(c.Departments) > 0 {
		upper := make(map[string]Department, len(c.Departments))
		for k, d := range c.Departments {
			upper[strings.ToUpper(k)] = d
		}
		c.Departments = upper
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported database driver %q", record.ErrConfiguration, c.Database.Driver)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: temperature %v out of range", record.ErrConfiguration, c.LLM.Temperature)
	}
	return nil
}

// Deployment returns the deployment name for env, or for the configured
// environment when env is empty.
func (c *Config) Deployment(env string) (string, error) {
	if env == "" {
		env = c.Environment
	}
	name, ok := c.LLM.Deployments[strings.ToLower(env)]
	if !ok || name == "" {
		return "", fmt.Errorf("%w: no deployment configured for environment %q", record.ErrConfiguration, env)
	}
	return name, nil
}

// FilterTable returns the department allow-lists, falling back to the
// built-in table when none are configured.
func (c *Config) FilterTable() record.FilterTable {
	if len(c.Departments) == 0 {
		return record.DefaultFilterTable()
	}
	table := record.FilterTable{}
	for code, d := range c.Departments {
		if len(d.AllowedLabels) > 0 {
			table[code] = d.AllowedLabels
		}
	}
	return table
}
