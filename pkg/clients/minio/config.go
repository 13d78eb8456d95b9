package minio

import (
	"errors"
	"time"
)

// maxStatementTruncateLen caps operation descriptions recorded on spans.
const maxStatementTruncateLen = 100

const (
	DefaultEndpoint      = "localhost:9000"
	DefaultRegion        = "us-east-1"
	DefaultBucket        = "audit-archive"
	DefaultHealthTimeout = 5 * time.Second

	healthProbeBucket = "health-check-probe"
)

// Secret hides the secret key from logs and serialized config.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string               { return redacted }
func (s Secret) GoString() string             { return redacted }
func (s Secret) Value() string                { return string(s) }
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds the object storage settings for the audit archive.
type Config struct {
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey Secret `json:"-" yaml:"secret_key" env:"SECRET_KEY"`
	Region    string `json:"region,omitempty" yaml:"region" env:"REGION"`
	UseSSL    bool   `json:"use_ssl,omitempty" yaml:"use_ssl" env:"USE_SSL"`

	// Bucket receives archived audit batches. It is created on first use.
	Bucket string `json:"bucket,omitempty" yaml:"bucket" env:"BUCKET"`
}

// DefaultConfig returns a Config for a local MinIO without TLS.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Region:   DefaultRegion,
		Bucket:   DefaultBucket,
	}
}

// Validate applies defaults to Region and Bucket and checks the required
// fields.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	return nil
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
