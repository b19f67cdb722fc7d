package config

import (
	"github.com/garyjia/disbursement-approvals/internal/container"
)

// ToContainerConfig converts the file-based Config loaded by viper into the
// container's configuration structure
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Auth: container.AuthConfig{
			JWTSecret: c.Auth.JWTSecret,
			Issuer:    c.Auth.Issuer,
			TokenTTL:  c.Auth.TokenTTL,
		},
		Redis: container.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Channel:  c.Redis.Channel,
		},
		Workflow: container.WorkflowConfig{
			SeedFile:          c.Workflow.SeedFile,
			StallAfter:        c.Workflow.StallAfter,
			StallPollInterval: c.Workflow.StallPoll,
			StallBatchSize:    c.Workflow.StallBatch,
		},
	}
}
