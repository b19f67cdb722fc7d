// Package container provides dependency injection and lifecycle management
// for the disbursement approval service.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container
type Config struct {
	Database DatabaseConfig
	Auth     AuthConfig
	Redis    RedisConfig
	Workflow WorkflowConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	// Driver is sqlite3 or pgx
	Driver string

	// Path to the SQLite database file
	Path string

	// DSN is the postgres connection string
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds actor token settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// RedisConfig holds notification publisher settings. Empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// WorkflowConfig holds seeding and stall detection settings
type WorkflowConfig struct {
	// SeedFile is loaded on every start when set
	SeedFile string

	StallAfter        time.Duration
	StallPollInterval time.Duration
	StallBatchSize    int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			Path:            "data/approvals.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:   "disbursement-approvals",
			TokenTTL: 8 * time.Hour,
		},
		Redis: RedisConfig{
			Channel: "disbursement_events",
		},
		Workflow: WorkflowConfig{
			SeedFile:          "configs/seed.yaml",
			StallAfter:        48 * time.Hour,
			StallPollInterval: 5 * time.Minute,
			StallBatchSize:    100,
		},
	}
}

// Validate checks that required configuration values are present
func (c *Config) Validate() error {
	if c.Database.Driver == "" {
		return fmt.Errorf("database.driver is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Auth.Issuer == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	return nil
}
