// Package config loads service configuration from an optional YAML file
// overlaid with TALLYBOOK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// minSecretLength mirrors auth.MinSecretLength without importing the core.
const minSecretLength = 32

type Config struct {
	Env       string    `yaml:"env" env:"TALLYBOOK_ENV" env-default:"local"`
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Postgres  Postgres  `yaml:"postgres"`
	Auth      Auth      `yaml:"auth"`
	RateLimit RateLimit `yaml:"rate_limit"`
}

type HTTP struct {
	Address         string        `yaml:"address" env:"TALLYBOOK_HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"TALLYBOOK_HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"TALLYBOOK_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"TALLYBOOK_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"TALLYBOOK_HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"TALLYBOOK_HTTP_MAX_BODY_BYTES" env-default:"65536"`
}

type GRPC struct {
	Address string `yaml:"address" env:"TALLYBOOK_GRPC_ADDR" env-default:":9090"`
}

type Postgres struct {
	DSN             string        `yaml:"dsn" env:"TALLYBOOK_PG_DSN" env-required:"true"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"TALLYBOOK_PG_MAX_OPEN_CONNS" env-default:"50"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"TALLYBOOK_PG_MAX_IDLE_CONNS" env-default:"25"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"TALLYBOOK_PG_CONN_MAX_LIFETIME" env-default:"15m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"TALLYBOOK_PG_CONN_MAX_IDLE_TIME" env-default:"5m"`
}

type Auth struct {
	Secret          string        `yaml:"secret" env:"TALLYBOOK_AUTH_SECRET" env-required:"true"`
	Issuer          string        `yaml:"issuer" env:"TALLYBOOK_AUTH_ISSUER" env-default:"tallybook"`
	AccessTTL       time.Duration `yaml:"access_ttl" env:"TALLYBOOK_AUTH_ACCESS_TTL" env-default:"1h"`
	RefreshTTL      time.Duration `yaml:"refresh_ttl" env:"TALLYBOOK_AUTH_REFRESH_TTL" env-default:"168h"`
	PermissionTTL   time.Duration `yaml:"permission_cache_ttl" env:"TALLYBOOK_AUTH_PERMISSION_CACHE_TTL" env-default:"0s"`
	PurgeInterval   time.Duration `yaml:"purge_interval" env:"TALLYBOOK_AUTH_PURGE_INTERVAL" env-default:"15m"`
	PasswordHashing string        `yaml:"password_hashing" env:"TALLYBOOK_AUTH_PASSWORD_HASHING" env-default:"bcrypt"`
}

type RateLimit struct {
	PerSecond float64 `yaml:"per_second" env:"TALLYBOOK_RATE_LIMIT_PER_SECOND" env-default:"10"`
	Burst     int     `yaml:"burst" env:"TALLYBOOK_RATE_LIMIT_BURST" env-default:"20"`
	// TrustedProxies are CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TALLYBOOK_RATE_LIMIT_TRUSTED_PROXIES" env-separator:","`
}

// Load reads path when set, otherwise only the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if len(c.Auth.Secret) < minSecretLength {
		errs = append(errs, fmt.Errorf("auth.secret must be at least %d bytes", minSecretLength))
	}
	if c.Auth.AccessTTL <= 0 {
		errs = append(errs, errors.New("auth.access_ttl must be positive"))
	}
	if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		errs = append(errs, errors.New("auth.refresh_ttl must not be shorter than auth.access_ttl"))
	}
	if c.Auth.PermissionTTL < 0 {
		errs = append(errs, errors.New("auth.permission_cache_ttl must not be negative"))
	}
	if c.Auth.PurgeInterval <= 0 {
		errs = append(errs, errors.New("auth.purge_interval must be positive"))
	}
	switch c.Auth.PasswordHashing {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("auth.password_hashing %q is not supported", c.Auth.PasswordHashing))
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.per_second and rate_limit.burst must be positive"))
	}
	for _, p := range c.RateLimit.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Errorf("rate_limit.trusted_proxies: %q is not an address or CIDR", p))
		}
	}
	return errors.Join(errs...)
}
