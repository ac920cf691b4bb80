// Package config provides configuration management for Portside.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with PORTSIDE_ prefix)
//   - .env files
//   - Default values
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./config.yaml, ./configs/config.yaml,
//     ~/.portside/config.yaml, /etc/portside/config.yaml)
//  3. .env files
//  4. Environment variables (PORTSIDE_ prefix)
//
// Environment variables use underscores for nested keys:
//   - PORTSIDE_SERVER_PORT=8090
//   - PORTSIDE_STORE_PATH=/var/lib/portside/panel.db
//   - PORTSIDE_SECURITY_JWT_SECRET=...
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for Portside.
type Config struct {
	// Server contains HTTP server configuration
	Server ServerConfig `mapstructure:"server"`

	// Store contains key-value store settings
	Store StoreConfig `mapstructure:"store"`

	// Agent contains node agent client settings
	Agent AgentConfig `mapstructure:"agent"`

	// Security contains authentication and rate limiting settings
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address
	Host string `mapstructure:"host"`

	// Port is the server listen port
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Debug enables debug logging
	Debug bool `mapstructure:"debug"`

	// TLSEnabled enables HTTPS
	TLSEnabled bool `mapstructure:"tls_enabled"`

	// TLSCert is the path to the TLS certificate file
	TLSCert string `mapstructure:"tls_cert"`

	// TLSKey is the path to the TLS private key file
	TLSKey string `mapstructure:"tls_key"`
}

// StoreConfig contains key-value store settings.
type StoreConfig struct {
	// Path is the bbolt database file path
	Path string `mapstructure:"path"`

	// OpenTimeout bounds the wait for the database file lock
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// AgentConfig contains node agent client settings. Each mutating
// operation carries its own fixed timeout; there are no retries.
type AgentConfig struct {
	// ReinstallTimeout bounds the reinstall call
	ReinstallTimeout time.Duration `mapstructure:"reinstall_timeout"`

	// EditTimeout bounds the edit call
	EditTimeout time.Duration `mapstructure:"edit_timeout"`

	// RedeployTimeout bounds the redeploy (image change) call
	RedeployTimeout time.Duration `mapstructure:"redeploy_timeout"`

	// RenameTimeout bounds the best-effort rename notification
	RenameTimeout time.Duration `mapstructure:"rename_timeout"`
}

// SecurityConfig contains authentication and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret"`

	// JWTExpiration is the JWT token expiration duration
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`
}

var cfg *Config

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PORTSIDE_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.portside")
		v.AddConfigPath("/etc/portside")
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicitly named file that is missing falls back to
		// defaults; any other read error is fatal either way.
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("PORTSIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.tls_enabled", false)

	v.SetDefault("store.path", "portside.db")
	v.SetDefault("store.open_timeout", "5s")

	v.SetDefault("agent.reinstall_timeout", "30s")
	v.SetDefault("agent.edit_timeout", "30s")
	v.SetDefault("agent.redeploy_timeout", "30s")
	v.SetDefault("agent.rename_timeout", "10s")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.jwt_secret", "change-me-in-production")
	v.SetDefault("security.jwt_expiration", "24h")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	return nil
}

// Get returns the configuration loaded by the last call to Load.
func Get() *Config {
	return cfg
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
