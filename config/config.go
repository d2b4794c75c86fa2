// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the payroll engine service.
type Config struct {
	Environment  string             `mapstructure:"environment"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Refresh      RefreshConfig      `mapstructure:"refresh"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects and parameterizes the storage backend.
// Driver is one of "memory", "sqlite", "postgres".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"` // sqlite file path
	DSN             string        `mapstructure:"dsn"`  // postgres connection string
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RefreshConfig drives the rule refresh scheduler.
type RefreshConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"` // %s = country code
	Countries      []string      `mapstructure:"countries"`
	Interval       time.Duration `mapstructure:"interval"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBase      time.Duration `mapstructure:"retry_base"`
	RetryCap       time.Duration `mapstructure:"retry_cap"`
	AlertThreshold int           `mapstructure:"alert_threshold"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type OrchestratorConfig struct {
	Workers int `mapstructure:"workers"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from the given file (optional), config search
// paths, and PAYROLL_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/payrolld")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("PAYROLL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine; defaults plus env cover everything.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/payroll.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("refresh.enabled", false)
	v.SetDefault("refresh.countries", []string{"MX", "BR"})
	v.SetDefault("refresh.interval", "6h")
	v.SetDefault("refresh.fetch_timeout", "30s")
	v.SetDefault("refresh.max_retries", 3)
	v.SetDefault("refresh.retry_base", "2s")
	v.SetDefault("refresh.retry_cap", "1m")
	v.SetDefault("refresh.alert_threshold", 3)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("orchestrator.workers", 8)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres driver")
	}
	if c.Refresh.Enabled && c.Refresh.Endpoint == "" {
		return fmt.Errorf("refresh.endpoint is required when refresh is enabled")
	}
	return nil
}
