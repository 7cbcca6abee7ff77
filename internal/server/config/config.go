// Package config handles configuration for the Gatekeeper server. Values are
// layered: built-in defaults, then an optional JSON file, then GATEKEEPER_*
// environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultSecretKey is the development signing key. It is public, so it is
// refused whenever a database is configured.
const DefaultSecretKey = "secretKey"

// Config holds runtime settings for the server.
//
// An empty DatabaseDSN selects the in-process ledger, which is only suitable
// for development: it is lost on restart and is not shared between replicas.
type Config struct {
	EndpointAddrHTTP string `env:"GATEKEEPER_HTTP_ADDR"`
	EndpointAddrGRPC string `env:"GATEKEEPER_GRPC_ADDR"`
	DatabaseDSN      string `env:"GATEKEEPER_DATABASE_DSN"`
	LogLevel         string `env:"GATEKEEPER_LOG_LEVEL"`

	SecretKey                    string        `env:"GATEKEEPER_SECRET_KEY"`
	Issuer                       string        `env:"GATEKEEPER_ISSUER"`
	AccessTokenValidityDuration  time.Duration `env:"GATEKEEPER_ACCESS_TOKEN_TTL"`
	RefreshTokenValidityDuration time.Duration `env:"GATEKEEPER_REFRESH_TOKEN_TTL"`
	RotateRefreshTokens          bool          `env:"GATEKEEPER_ROTATE_REFRESH_TOKENS"`
	LedgerTimeout                time.Duration `env:"GATEKEEPER_LEDGER_TIMEOUT"`
	BcryptCost                   int           `env:"GATEKEEPER_BCRYPT_COST"`

	PurgeInterval  time.Duration `env:"GATEKEEPER_PURGE_INTERVAL"`
	PurgeBatchSize int           `env:"GATEKEEPER_PURGE_BATCH_SIZE"`

	S3RootUser     string `env:"GATEKEEPER_S3_ROOT_USER"`
	S3RootPassword string `env:"GATEKEEPER_S3_ROOT_PASSWORD"`
	S3Bucket       string `env:"GATEKEEPER_S3_BUCKET"`
	S3Region       string `env:"GATEKEEPER_S3_REGION"`
	S3BaseEndpoint string `env:"GATEKEEPER_S3_BASE_ENDPOINT"`
}

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey must be overridden in production.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.EndpointAddrGRPC = ":50051"
	c.DatabaseDSN = ""
	c.LogLevel = "info"
	c.SecretKey = DefaultSecretKey
	c.Issuer = "gatekeeper"
	c.AccessTokenValidityDuration = 15 * time.Minute
	c.RefreshTokenValidityDuration = 7 * 24 * time.Hour
	c.RotateRefreshTokens = true
	c.LedgerTimeout = 2 * time.Second
	c.BcryptCost = 12
	c.PurgeInterval = time.Hour
	c.PurgeBatchSize = 500
	c.S3Region = "us-east-1"
}

// Validate rejects settings the token subsystem cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.DatabaseDSN != "" && c.UsesDefaultSecret() {
		errs = append(errs, errors.New("secret key must be changed from the default when a database is configured"))
	}
	if c.AccessTokenValidityDuration <= 0 {
		errs = append(errs, fmt.Errorf("access token ttl must be positive, got %s", c.AccessTokenValidityDuration))
	}
	if c.RefreshTokenValidityDuration <= 0 {
		errs = append(errs, fmt.Errorf("refresh token ttl must be positive, got %s", c.RefreshTokenValidityDuration))
	}
	if c.LedgerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ledger timeout must be positive, got %s", c.LedgerTimeout))
	}
	if c.PurgeBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("purge batch size must be positive, got %d", c.PurgeBatchSize))
	}
	return errors.Join(errs...)
}

// UsesDefaultSecret reports whether tokens would be signed with the
// built-in development key.
func (c *Config) UsesDefaultSecret() bool {
	return c.SecretKey == DefaultSecretKey
}

// LoadConfig builds a Config from defaults, the optional JSON file, the
// environment and finally the process command line.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load is LoadConfig with an explicit argument list.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
