// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	HTTP          HTTPConfig         `mapstructure:"http"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Signing       SigningConfig      `mapstructure:"signing"`
	Pipeline      PipelineConfig     `mapstructure:"pipeline"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Address      string `mapstructure:"address"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int    `mapstructure:"write_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	AuditIndex string   `mapstructure:"audit_index"`
}

// --- Signing Pipeline Configuration ---

// SigningConfig holds settings for the external e-signature provider and the
// local job queue that feeds it.
type SigningConfig struct {
	ProviderBaseURL string `mapstructure:"provider_base_url"`
	APIKey          string `mapstructure:"api_key"`
	WebhookSecret   string `mapstructure:"webhook_secret"`
	TemplateRef     string `mapstructure:"template_ref"`
	RequestTimeout  int    `mapstructure:"request_timeout"` // milliseconds

	MaxAttempts     int `mapstructure:"max_attempts"`
	BackoffBase     int `mapstructure:"backoff_base"`      // milliseconds
	BackoffMax      int `mapstructure:"backoff_max"`       // milliseconds
	PollInterval    int `mapstructure:"poll_interval"`     // milliseconds
	WorkerCount     int `mapstructure:"worker_count"`
	ClaimTimeout    int `mapstructure:"claim_timeout"`     // milliseconds
	SweepInterval   int `mapstructure:"sweep_interval"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"`  // milliseconds
}

// PipelineConfig holds settings for the stage engine and requirement resolver.
type PipelineConfig struct {
	DefaultRequiredDocuments []string `mapstructure:"default_required_documents"`
	RequirementCacheTTL      int      `mapstructure:"requirement_cache_ttl"` // milliseconds
}

// NotificationConfig holds settings for outbound staff/client notifications.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
