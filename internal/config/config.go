package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// State backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config holds all service configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	App           AppConfig
	Observability ObservabilityConfig
	Attribution   AttributionConfig
	State         StateConfig
}

// ClientConfig is the subset the CLI needs.
type ClientConfig struct {
	App         AppConfig
	Attribution AttributionConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" required:"true"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" required:"true"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" required:"true"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" required:"true"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// DatabaseConfig holds PostgreSQL connection configuration. It is only
// loaded when STATE_BACKEND is postgres.
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" required:"true"`
	Port     string `envconfig:"DB_PORT" required:"true"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Name     string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" required:"true"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" default:"2"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("min connections cannot be negative")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL keyword/value connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the connection settings as a postgres:// URL, the form the
// migration runner expects.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"` // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`      // debug, info, warn, error
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// ObservabilityConfig holds tracing configuration.
type ObservabilityConfig struct {
	Enabled           bool    `envconfig:"OTEL_ENABLED" default:"false"`
	ServiceName       string  `envconfig:"OTEL_SERVICE_NAME" default:"deeplink"`
	ServiceVersion    string  `envconfig:"OTEL_SERVICE_VERSION"`
	TracingSampleRate float64 `envconfig:"OTEL_TRACING_SAMPLE_RATE" default:"1"`
}

// Validate validates the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be between 0 and 1, got %f", c.TracingSampleRate)
	}

	if c.Enabled {
		if c.ServiceName == "" {
			return fmt.Errorf("service name is required when observability is enabled")
		}
		if c.ServiceVersion == "" {
			return fmt.Errorf("service version is required when observability is enabled")
		}
	}

	return nil
}

// AttributionConfig configures the attribution client.
type AttributionConfig struct {
	BaseURL         string        `envconfig:"DEEPLINK_BASE_URL" required:"true"`
	APIKey          string        `envconfig:"DEEPLINK_API_KEY" required:"true"`
	Platform        string        `envconfig:"DEEPLINK_PLATFORM" default:"android"`
	MaxRetries      int           `envconfig:"DEEPLINK_MAX_RETRIES" default:"3"`
	RequestTimeout  time.Duration `envconfig:"DEEPLINK_REQUEST_TIMEOUT" default:"10s"`
	ReferrerTimeout time.Duration `envconfig:"DEEPLINK_REFERRER_TIMEOUT" default:"5s"`
	AllowEmulator   bool          `envconfig:"DEEPLINK_ALLOW_EMULATOR" default:"false"`
}

// Validate validates the attribution configuration.
func (c *AttributionConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base URL must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	if c.APIKey == "" || strings.ContainsAny(c.APIKey, " \t\r\n") {
		return fmt.Errorf("API key must be non-empty and contain no whitespace")
	}
	if c.Platform == "" {
		return fmt.Errorf("platform cannot be empty")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.ReferrerTimeout <= 0 {
		return fmt.Errorf("referrer timeout must be positive")
	}
	return nil
}

// StateConfig selects and configures the check state backend.
type StateConfig struct {
	Backend       string        `envconfig:"STATE_BACKEND" default:"postgres"`
	RedisAddress  string        `envconfig:"REDIS_ADDRESS" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	SQLiteDSN     string        `envconfig:"SQLITE_DSN" default:"deeplink.db"`
	KeyPrefix     string        `envconfig:"STATE_KEY_PREFIX" default:"deeplink:state:"`
	TTL           time.Duration `envconfig:"STATE_TTL" default:"0"`
}

// Validate validates the state configuration.
func (c *StateConfig) Validate() error {
	switch c.Backend {
	case BackendPostgres, BackendMemory:
	case BackendRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("redis address is required for the redis backend")
		}
		if c.RedisDB < 0 {
			return fmt.Errorf("redis db cannot be negative")
		}
	case BackendSQLite:
		if c.SQLiteDSN == "" {
			return fmt.Errorf("sqlite DSN is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid state backend: %s (must be one of: postgres, redis, sqlite, memory)", c.Backend)
	}
	if c.TTL < 0 {
		return fmt.Errorf("state TTL cannot be negative")
	}
	return nil
}

type section struct {
	name     string
	target   any
	validate func() error
}

func process(sections ...section) error {
	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if err := s.validate(); err != nil {
			return fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}
	return nil
}

// Load loads the service configuration from environment variables only.
// (Do .env loading in the app package for dev, not here.)
func Load() (*Config, error) {
	cfg := &Config{}

	err := process(
		section{"Server", &cfg.Server, cfg.Server.Validate},
		section{"App", &cfg.App, cfg.App.Validate},
		section{"Observability", &cfg.Observability, cfg.Observability.Validate},
		section{"Attribution", &cfg.Attribution, cfg.Attribution.Validate},
		section{"State", &cfg.State, cfg.State.Validate},
	)
	if err != nil {
		return nil, err
	}

	if cfg.State.Backend == BackendPostgres {
		if err := process(section{"Database", &cfg.Database, cfg.Database.Validate}); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadClient loads the configuration the CLI needs.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}

	err := process(
		section{"App", &cfg.App, cfg.App.Validate},
		section{"Attribution", &cfg.Attribution, cfg.Attribution.Validate},
	)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase loads only the database section, for the migration tool.
func LoadDatabase() (*DatabaseConfig, error) {
	cfg := &DatabaseConfig{}
	if err := process(section{"Database", cfg, cfg.Validate}); err != nil {
		return nil, err
	}
	return cfg, nil
}
