package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Dispatch DispatchConfig `mapstructure:"dispatch" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Schemas  SchemasConfig  `mapstructure:"schemas"`
}

// ServerConfig contains HTTP server and logging settings.
type ServerConfig struct {
	Port      int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=json text"`
}

// Supported job store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig selects and configures the job store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite memory"`
	// URL is a postgres connection string or a sqlite file path.
	URL          string `mapstructure:"url" validate:"required_unless=Driver memory"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// Supported AI providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// LLMConfig contains AI provider settings.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider" validate:"required,oneof=gemini openai"`
	GeminiAPIKey      string        `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	OpenAIAPIKey      string        `mapstructure:"openai_api_key" validate:"required_if=Provider openai"`
	OpenAIBaseURL     string        `mapstructure:"openai_base_url" validate:"omitempty,url"`
	ModelName         string        `mapstructure:"model_name" validate:"required"`
	ResearchModelName string        `mapstructure:"research_model_name"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// DispatchConfig holds the batch dispatcher defaults.
type DispatchConfig struct {
	BatchSize        int           `mapstructure:"batch_size" validate:"gt=0"`
	ConcurrencyLimit int           `mapstructure:"concurrency_limit" validate:"gt=0"`
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"gt=0"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay" validate:"gtefield=RetryBaseDelay"`
}

// WorkerConfig holds job worker settings.
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout" validate:"gt=0"`
	ReapInterval time.Duration `mapstructure:"reap_interval" validate:"gt=0"`
	// WorkerID defaults to the hostname when empty.
	WorkerID string `mapstructure:"worker_id"`
}

// BrokerConfig enables AMQP job notifications when AMQPURL is set.
type BrokerConfig struct {
	AMQPURL  string `mapstructure:"amqp_url" validate:"omitempty,url"`
	Exchange string `mapstructure:"exchange" validate:"required_with=AMQPURL"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// SchemasConfig points at a directory of YAML schema definitions.
type SchemasConfig struct {
	Dir string `mapstructure:"dir"`
}
