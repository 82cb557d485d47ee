package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. ENRICH_DATABASE_URL.
const EnvPrefix = "ENRICH"

var defaults = map[string]any{
	"server.port":       8080,
	"server.log_level":  "info",
	"server.log_format": "json",

	"database.driver":         DriverSQLite,
	"database.url":            "enrich.db",
	"database.max_open_conns": 10,

	"llm.provider":            ProviderGemini,
	"llm.gemini_api_key":      "",
	"llm.openai_api_key":      "",
	"llm.openai_base_url":     "",
	"llm.model_name":          "gemini-2.0-flash",
	"llm.research_model_name": "",
	"llm.request_timeout":     2 * time.Minute,

	"dispatch.batch_size":        10,
	"dispatch.concurrency_limit": 4,
	"dispatch.max_attempts":      3,
	"dispatch.retry_base_delay":  time.Second,
	"dispatch.retry_max_delay":   30 * time.Second,

	"worker.poll_interval": 2 * time.Second,
	"worker.lease_timeout": 30 * time.Minute,
	"worker.reap_interval": time.Minute,
	"worker.worker_id":     "",

	"broker.amqp_url": "",
	"broker.exchange": "enrich.jobs",

	"metrics.enabled": true,
	"metrics.path":    "/metrics",

	"schemas.dir": "",
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables take precedence over values from the file. An empty
// path skips the file. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key needs a default so AutomaticEnv can bind it during Unmarshal.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// ResearchModel returns the model used for deep research calls.
func (c LLMConfig) ResearchModel() string {
	if c.ResearchModelName != "" {
		return c.ResearchModelName
	}
	return c.ModelName
}
