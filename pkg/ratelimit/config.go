package ratelimit

import (
	"fmt"
	"maps"
)

// Backend selects where budgets are kept.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Config is the limiter section of the service configuration.
type Config struct {
	Enabled bool    `json:"enabled" yaml:"enabled" env:"ENABLED" envDefault:"true"`
	Backend Backend `json:"backend" yaml:"backend" env:"BACKEND" envDefault:"memory"`

	// FailOpen admits requests while the Redis backend is unreachable.
	FailOpen bool `json:"fail_open" yaml:"fail_open" env:"FAIL_OPEN" envDefault:"true"`

	// Quotas overrides entries of [DefaultQuotas] by tier name.
	Quotas map[Tier]Quota `json:"quotas,omitempty" yaml:"quotas"`

	// UserBasedPaths overrides [DefaultUserBasedPaths] when non-empty.
	UserBasedPaths []string `json:"user_based_paths,omitempty" yaml:"user_based_paths" env:"USER_BASED_PATHS"`
}

// Validate checks the backend and every override.
func (c *Config) Validate() error {
	switch c.Backend {
	case "":
		c.Backend = BackendMemory
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("ratelimit: unknown backend %q", c.Backend)
	}
	known := DefaultQuotas()
	for tier, q := range c.Quotas {
		if _, ok := known[tier]; !ok {
			return fmt.Errorf("ratelimit: unknown tier %q", tier)
		}
		if q.Limit > 0 && q.Window <= 0 {
			return fmt.Errorf("ratelimit: tier %q needs a positive window", tier)
		}
	}
	return nil
}

// ResolvedQuotas merges the overrides over [DefaultQuotas].
func (c Config) ResolvedQuotas() map[Tier]Quota {
	q := DefaultQuotas()
	maps.Copy(q, c.Quotas)
	return q
}

// Keyer returns the bucket keyer for the configured user-based paths.
func (c Config) Keyer() Keyer {
	if len(c.UserBasedPaths) > 0 {
		return Keyer{UserBasedPaths: c.UserBasedPaths}
	}
	return Keyer{UserBasedPaths: DefaultUserBasedPaths}
}
