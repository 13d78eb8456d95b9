package engine

import (
	"fmt"
	"time"

	"github.com/StricklySoft/accessguard/pkg/audit"
	"github.com/StricklySoft/accessguard/pkg/auth"
	"github.com/StricklySoft/accessguard/pkg/clients/minio"
	"github.com/StricklySoft/accessguard/pkg/clients/postgres"
	"github.com/StricklySoft/accessguard/pkg/clients/redis"
	"github.com/StricklySoft/accessguard/pkg/ratelimit"
)

// Storage backends for audit entries and tenants.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the complete accessguard configuration. Load it with
// config.New().WithEnvPrefix("ACCESSGUARD").
type Config struct {
	Server ServerConfig `json:"server" yaml:"server" env:"SERVER"`

	// Providers lists the identity providers, read from the config file.
	// When empty, Provider is used alone.
	Providers []auth.ProviderConfig `json:"providers" yaml:"providers"`
	Provider  auth.ProviderConfig   `json:"provider" yaml:"provider" env:"OIDC"`

	RateLimit ratelimit.Config `json:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT"`
	Audit     AuditConfig      `json:"audit" yaml:"audit" env:"AUDIT"`
	Tenants   TenantConfig     `json:"tenants" yaml:"tenants" env:"TENANTS"`

	Postgres postgres.Config `json:"postgres" yaml:"postgres" env:"POSTGRES"`
	Redis    redis.Config    `json:"redis" yaml:"redis" env:"REDIS"`
	MinIO    minio.Config    `json:"minio" yaml:"minio" env:"MINIO"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr" env:"ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Storage       string        `json:"storage" yaml:"storage" env:"STORAGE" envDefault:"memory"`
	WriteTimeout  time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"5s"`
	RetentionDays int           `json:"retention_days" yaml:"retention_days" env:"RETENTION_DAYS" envDefault:"365"`

	// Archive uploads expired entries to MinIO before the retention sweep
	// deletes them.
	Archive bool `json:"archive" yaml:"archive" env:"ARCHIVE"`

	// SweepInterval runs the retention sweep in the background when
	// positive. The sweep is otherwise only reachable over HTTP.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// TenantConfig configures tenant lookups.
type TenantConfig struct {
	Storage string `json:"storage" yaml:"storage" env:"STORAGE" envDefault:"memory"`

	// RequireActive rejects identities of unknown or inactive tenants.
	RequireActive bool `json:"require_active" yaml:"require_active" env:"REQUIRE_ACTIVE"`

	// CacheTTL caches lookups in Redis when positive.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"CACHE_TTL"`
}

// ProviderConfigs returns the providers to register.
func (c Config) ProviderConfigs() []auth.ProviderConfig {
	if len(c.Providers) > 0 {
		return c.Providers
	}
	return []auth.ProviderConfig{c.Provider}
}

// UsesPostgres reports whether any store is kept in PostgreSQL.
func (c Config) UsesPostgres() bool {
	return c.Audit.Storage == StoragePostgres || c.Tenants.Storage == StoragePostgres
}

// UsesRedis reports whether the limiter or the tenant cache needs Redis.
func (c Config) UsesRedis() bool {
	return (c.RateLimit.Enabled && c.RateLimit.Backend == ratelimit.BackendRedis) || c.Tenants.CacheTTL > 0
}

// Validate checks every section, including the client sections of the
// backends in use.
func (c *Config) Validate() error {
	for i, p := range c.ProviderConfigs() {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("engine: provider %d: %w", i, err)
		}
	}
	return c.validateBackends()
}

// validateBackends checks everything except the providers.
func (c *Config) validateBackends() error {
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if c.Audit.Storage == "" {
		c.Audit.Storage = StorageMemory
	}
	if c.Tenants.Storage == "" {
		c.Tenants.Storage = StorageMemory
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = audit.DefaultRetentionDays
	}
	for name, storage := range map[string]string{"audit": c.Audit.Storage, "tenants": c.Tenants.Storage} {
		if storage != StorageMemory && storage != StoragePostgres {
			return fmt.Errorf("engine: %s storage must be %q or %q, got %q", name, StorageMemory, StoragePostgres, storage)
		}
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("engine: audit retention_days must be positive, got %d", c.Audit.RetentionDays)
	}
	if c.UsesPostgres() {
		if err := c.Postgres.Validate(); err != nil {
			return err
		}
	}
	if c.UsesRedis() {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}
	if c.Audit.Archive {
		if err := c.MinIO.Validate(); err != nil {
			return err
		}
	}
	return nil
}
