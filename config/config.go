/*
Package config loads server configuration.

Priority (highest to lowest):
 1. Command-line flags applied by cmd/server
 2. Environment variables with the MESS_ prefix (e.g. MESS_AUTH_SECRET)
 3. config.toml in the working directory, ./config or /etc/mess
 4. Built-in defaults

app.env defaults to production. Development (fallback secret, demo scenario
routes) has to be asked for with MESS_APP_ENV=development.
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devSecret = "dev-only-secret-change-me"
)

type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Log      LogConfig
	Seed     SeedConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type HTTPConfig struct {
	Port             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

type DatabaseConfig struct {
	Path string
}

type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

// SeedConfig names a demo scenario loaded at startup in development.
type SeedConfig struct {
	Scenario string
}

// IsDevelopment reports whether demo endpoints and the dev secret are allowed.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == EnvDevelopment
}

// Load reads config.toml (optional) and MESS_* environment variables.
// An explicit path, when non-empty, must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/mess")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("MESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  strings.ToLower(v.GetString("app.env")),
		},
		HTTP: HTTPConfig{
			Port:             v.GetInt("http.port"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: splitList(v.GetStringSlice("http.cors_allow_origins")),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Auth: AuthConfig{
			Secret:   v.GetString("auth.secret"),
			Issuer:   v.GetString("auth.issuer"),
			TokenTTL: v.GetDuration("auth.token_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Seed: SeedConfig{
			Scenario: v.GetString("seed.scenario"),
		},
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mess-subs")
	v.SetDefault("app.env", EnvProduction)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.cors_allow_origins", []string{"*"})
	v.SetDefault("database.path", "./data/mess.db")
	v.SetDefault("auth.issuer", "mess-subs")
	v.SetDefault("auth.token_ttl", "12h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
}

// applyDefaults fills values that depend on other settings.
func applyDefaults(cfg *Config) {
	if cfg.Auth.Secret == "" && cfg.IsDevelopment() {
		cfg.Auth.Secret = devSecret
	}
	if cfg.App.Env == EnvProduction && cfg.Log.Format == "console" {
		cfg.Log.Format = "json"
	}
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if !c.IsDevelopment() {
		if c.Auth.Secret == "" || c.Auth.Secret == devSecret {
			return fmt.Errorf("auth.secret must be set outside development")
		}
		if len(c.Auth.Secret) < 32 {
			return fmt.Errorf("auth.secret must be at least 32 characters outside development")
		}
		if c.Seed.Scenario != "" {
			return fmt.Errorf("seed.scenario is only allowed in development")
		}
	}
	return nil
}

// splitList accepts both TOML arrays and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
