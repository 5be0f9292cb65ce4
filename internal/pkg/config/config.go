// Package config provides the typed engine configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	appenv "github.com/ManuelReschke/TipQueue/internal/pkg/env"
	"github.com/ManuelReschke/TipQueue/internal/pkg/fees"
)

// Config holds the engine configuration parsed from the environment.
type Config struct {
	AppEnv  string `env:"APP_ENV"  envDefault:"prod"`
	AppHost string `env:"APP_HOST" envDefault:"localhost"`
	AppPort string `env:"APP_PORT" envDefault:"4000"`

	Database Database `envPrefix:"DB_"`
	Cache    Cache    `envPrefix:"CACHE_"`
	Stripe   Stripe   `envPrefix:"STRIPE_"`
	Fee      Fee      `envPrefix:"FEE_"`
	Archive  Archive  `envPrefix:"S3_"`

	DefaultCurrency     string        `env:"CURRENCY_DEFAULT"      envDefault:"usd"`
	OperationTimeout    time.Duration `env:"OPERATION_TIMEOUT"     envDefault:"10s"`
	PayoutSweepInterval time.Duration `env:"PAYOUT_SWEEP_INTERVAL" envDefault:"6h"`
	JobQueueWorkers     int           `env:"JOBQUEUE_WORKERS"      envDefault:"2"`

	// ServiceAPIKeySHA256 is the hex SHA-256 of the key accepted on /api routes.
	ServiceAPIKeySHA256 string `env:"SERVICE_API_KEY_SHA256"`
	AdminUser           string `env:"ADMIN_USER"            envDefault:"admin"`
	AdminPasswordBcrypt string `env:"ADMIN_PASSWORD_BCRYPT"`
}

type Database struct {
	Driver   string `env:"DRIVER"   envDefault:"mysql"`
	Host     string `env:"HOST"     envDefault:"127.0.0.1"`
	Port     string `env:"PORT"     envDefault:"3306"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME"     envDefault:"tipqueue"`
	// Path is the SQLite file used when Driver is "sqlite".
	Path string `env:"PATH" envDefault:"tipqueue.db"`
}

type Cache struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     string `env:"PORT"     envDefault:"6379"`
	Password string `env:"PASSWORD"`
}

type Stripe struct {
	SecretKey         string        `env:"SECRET_KEY"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	// APIBaseURL overrides the SDK's API host, e.g. for stripe-mock.
	APIBaseURL        string        `env:"API_BASE_URL"`
	MaxNetworkRetries int64         `env:"MAX_NETWORK_RETRIES" envDefault:"2"`
	SigTolerance      time.Duration `env:"SIG_TOLERANCE"       envDefault:"5m"`
}

type Fee struct {
	Policy           string `env:"POLICY"             envDefault:"block_flat"`
	ThresholdCents   int64  `env:"THRESHOLD_CENTS"    envDefault:"5000"`
	FeePerBlockCents int64  `env:"PER_BLOCK_CENTS"    envDefault:"333"`
	RateBps          int64  `env:"RATE_BPS"           envDefault:"330"`
}

type Archive struct {
	Enabled         bool   `env:"ARCHIVE_ENABLED"  envDefault:"false"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Region          string `env:"REGION"           envDefault:"us-east-1"`
	BucketName      string `env:"BUCKET_NAME"`
	EndpointURL     string `env:"ENDPOINT_URL"`
	Prefix          string `env:"ARCHIVE_PREFIX"   envDefault:"payout-runs"`
}

// Load parses the merged .env file and process environment.
func Load() (*Config, error) {
	return Parse(appenv.Environ())
}

// Parse builds a Config from an explicit environment map.
func Parse(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.OperationTimeout <= 0 {
		return nil, fmt.Errorf("OPERATION_TIMEOUT must be positive")
	}
	if _, err := cfg.FeePolicy(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FeePolicy builds the single fee policy shared by aggregation and scheduling.
func (c *Config) FeePolicy() (fees.Policy, error) {
	return fees.New(c.Fee.Policy, fees.Config{
		ThresholdCents:   c.Fee.ThresholdCents,
		FeePerBlockCents: c.Fee.FeePerBlockCents,
		RateBps:          c.Fee.RateBps,
	})
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}
