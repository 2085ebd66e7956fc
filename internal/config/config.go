// Package config provides configuration management for fleetscope.
// It uses Viper to load settings from an optional config file and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// User is a login account for the HTTP surface. PasswordHash is a bcrypt
// hash; the token issued on login carries Admin and Permissions.
type User struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Admin        bool     `mapstructure:"admin"`
	Permissions  []string `mapstructure:"permissions"`
}

// Config holds all runtime configuration for fleetscope.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost  string   `mapstructure:"server_host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	// ── Store ────────────────────────────────────────────────────────────────
	DBDriver string `mapstructure:"db_driver"` // "sqlite" or "postgres"
	DBDSN    string `mapstructure:"db_dsn"`    // sqlite file path or postgres DSN
	// DBSetup drops and recreates the schema on first connect.
	DBSetup bool `mapstructure:"db_setup"`

	// ── Security ─────────────────────────────────────────────────────────────
	// JWTSecret: HS256 key shared by the gate and the login endpoint.
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	// AdminUser / AdminPass: bootstrap admin account for /api/login.
	AdminUser string `mapstructure:"admin_user"`
	AdminPass string `mapstructure:"admin_pass"`
	Users     []User `mapstructure:"users"`

	// ── Logging ──────────────────────────────────────────────────────────────
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // console | json

	// ── Recorder ─────────────────────────────────────────────────────────────
	AgentUUID     string `mapstructure:"agent_uuid"`
	AgentName     string `mapstructure:"agent_name"`
	AgentUsername string `mapstructure:"agent_username"`
	AgentInterval int    `mapstructure:"agent_interval_seconds"`
}

// Load reads config from file (./config.yaml or ~/.fleetscope/config.yaml)
// and falls back to defaults. Environment variables with prefix FLEET_
// override file values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("port", 6677)
	v.SetDefault("cors_origins", []string{"*"})

	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "fleetscope.db")
	v.SetDefault("db_setup", false)

	// Security defaults must be overridden in production.
	v.SetDefault("jwt_secret", "fleetscope-dev-secret")
	v.SetDefault("jwt_issuer", "fleetscope")
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("agent_uuid", "")
	v.SetDefault("agent_name", "fleetscope-recorder")
	v.SetDefault("agent_username", "admin")
	v.SetDefault("agent_interval_seconds", 30)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.fleetscope")
	if err := v.ReadInConfig(); err != nil {
		// config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret must be set")
	}
	switch strings.ToLower(c.DBDriver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db_driver %q (use 'sqlite' or 'postgres')", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("db_dsn must be set")
	}
	if c.AgentInterval <= 0 {
		return fmt.Errorf("agent_interval_seconds must be positive, got %d", c.AgentInterval)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.Port)
}
