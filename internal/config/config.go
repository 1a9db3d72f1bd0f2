package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port            string `env:"PORT" envDefault:"8080"`
	DatabaseURL     string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns      int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBAutoMigrate   bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	JWTSecret       string `env:"JWT_SECRET"`
	JWKSURL         string `env:"JWKS_URL"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string `env:"LOG_FORMAT" envDefault:"json"`
	DefaultCurrency string `env:"DEFAULT_CURRENCY" envDefault:"USD"`

	Redis   RedisConfig
	Minio   MinioConfig
	Stripe  StripeConfig
	Renewal RenewalConfig
}

type RedisConfig struct {
	Addr           string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password       string        `env:"REDIS_PASSWORD"`
	DB             int           `env:"REDIS_DB" envDefault:"0"`
	AccessCacheTTL time.Duration `env:"ACCESS_CACHE_TTL" envDefault:"5m"`
}

type MinioConfig struct {
	Endpoint     string `env:"MINIO_ENDPOINT"`
	AccessKey    string `env:"MINIO_ACCESS_KEY"`
	SecretKey    string `env:"MINIO_SECRET_KEY"`
	UseSSL       bool   `env:"MINIO_USE_SSL" envDefault:"false"`
	ReportBucket string `env:"REPORT_BUCKET" envDefault:"renewal-reports"`
}

type StripeConfig struct {
	APIKey        string `env:"STRIPE_API_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// RenewalConfig drives the renewal scheduler and the expiration sweeper
type RenewalConfig struct {
	Interval      time.Duration `env:"RENEWAL_INTERVAL" envDefault:"1h"`
	InitialDelay  time.Duration `env:"RENEWAL_INITIAL_DELAY" envDefault:"30s"`
	Concurrency   int           `env:"RENEWAL_CONCURRENCY" envDefault:"8"`
	Timeout       time.Duration `env:"RENEWAL_TIMEOUT" envDefault:"30s"`
	BatchSize     int           `env:"RENEWAL_BATCH_SIZE" envDefault:"500"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	GraceWindow   time.Duration `env:"GRACE_WINDOW" envDefault:"168h"`
}

// Load reads an optional .env file and then the process environment
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Renewal.Interval <= 0 || c.Renewal.SweepInterval <= 0 {
		return errors.New("renewal and sweep intervals must be positive")
	}
	if c.Renewal.Concurrency < 1 {
		return errors.New("RENEWAL_CONCURRENCY must be at least 1")
	}
	if c.Renewal.Timeout <= 0 {
		return errors.New("RENEWAL_TIMEOUT must be positive")
	}
	if c.Renewal.BatchSize < 1 {
		return errors.New("RENEWAL_BATCH_SIZE must be at least 1")
	}
	if c.Renewal.GraceWindow < 0 {
		return errors.New("GRACE_WINDOW must not be negative")
	}
	return nil
}

// StripeEnabled reports whether a processor is configured; without one every plan is billed locally
func (c *Config) StripeEnabled() bool {
	return c.Stripe.APIKey != ""
}

func (c *Config) MinioEnabled() bool {
	return c.Minio.Endpoint != ""
}
