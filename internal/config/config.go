package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Lookup   LookupConfig   `mapstructure:"lookup"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig is optional; an empty Addr disables the resolved-term cache.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// LookupConfig parameterizes the external business-lookup service. Anchor is
// the deployment-wide geographic anchor sent with every search.
type LookupConfig struct {
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	Token       string        `mapstructure:"token" validate:"required"`
	Anchor      string        `mapstructure:"anchor" validate:"required"`
	Limit       int           `mapstructure:"limit" validate:"min=1,max=50"`
	SortBy      string        `mapstructure:"sort_by" validate:"required"`
	Locale      string        `mapstructure:"locale" validate:"required"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"required"`
	Concurrency int           `mapstructure:"concurrency" validate:"min=1"`
}

// DSN renders the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result. Missing required options fail here,
// at startup, rather than at first use.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("lookup.limit", 20)
	v.SetDefault("lookup.sort_by", "best_match")
	v.SetDefault("lookup.locale", "en_US")
	v.SetDefault("lookup.timeout", 10*time.Second)
	v.SetDefault("lookup.concurrency", 4)

	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Secrets come from the environment, never from the file.
	if token := v.GetString("LOOKUP_TOKEN"); token != "" {
		cfg.Lookup.Token = token
	}
	if pass := v.GetString("DB_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
