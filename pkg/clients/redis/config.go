// Package redis provides the Redis client behind the distributed rate
// limiter. It wraps go-redis (github.com/redis/go-redis/v9) with
// OpenTelemetry spans and platform error codes.
//
// For tests, inject a mock with [NewFromClient]:
//
//	client := redis.NewFromClient(mock, &redis.Config{DB: 0})
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen caps statements recorded on spans. Rate-limit
// keys embed subject ids and client addresses.
const maxStatementTruncateLen = 100

const (
	DefaultHost          = "localhost"
	DefaultPort          = 6379
	DefaultDB            = 0
	DefaultPoolSize      = 25
	DefaultMinIdleConns  = 5
	DefaultMaxRetries    = 3
	DefaultDialTimeout   = 10 * time.Second
	DefaultReadTimeout   = 5 * time.Second
	DefaultWriteTimeout  = 5 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

// Secret hides the Redis password from logs and serialized config.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string               { return redacted }
func (s Secret) GoString() string             { return redacted }
func (s Secret) Value() string                { return string(s) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds the Redis connection settings. URI, when set, wins over
// Host, Port, DB and Password.
type Config struct {
	URI      string `json:"uri,omitempty" yaml:"uri" env:"URI"`
	Host     string `json:"host,omitempty" yaml:"host" env:"HOST"`
	Port     int    `json:"port,omitempty" yaml:"port" env:"PORT"`
	DB       int    `json:"db" yaml:"db" env:"DB"`
	Password Secret `json:"-" yaml:"password" env:"PASSWORD"`

	PoolSize     int           `json:"pool_size,omitempty" yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns,omitempty" yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	MaxRetries   int           `json:"max_retries,omitempty" yaml:"max_retries" env:"MAX_RETRIES"`
	DialTimeout  time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout" env:"WRITE_TIMEOUT"`

	// TLSEnabled turns on TLS for structured configs. A rediss:// URI
	// enables it on its own.
	TLSEnabled bool `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"TLS_ENABLED"`
}

// DefaultConfig returns a Config pointing at a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate applies defaults to zero fields and returns the first invalid
// setting.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	switch {
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	case c.PoolSize < 1:
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	case c.MinIdleConns < 0:
		return fmt.Errorf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	case c.PoolSize < c.MinIdleConns:
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	case c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0:
		return fmt.Errorf("redis: config timeouts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement shortens s to maxStatementTruncateLen runes.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
