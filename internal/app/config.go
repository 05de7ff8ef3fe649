package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace/internal/storage/postgres"
	"github.com/xenking/marketplace/internal/storage/redis"
)

// Config holds the complete application configuration, loadable from
// environment variables (MARKET_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Pool        postgres.PoolConfig
	Tx          postgres.TxConfig
	Redis       redis.Config
	RateLimit   RateLimitConfig
	HTTP        HTTPConfig
	Graceful    GracefulConfig
}

// RateLimitConfig limits coupon apply and remove calls per client.
type RateLimitConfig struct {
	Max    int           `default:"30" usage:"Max apply/remove requests per client and window; 0 disables the limit"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// HTTPConfig holds server limits.
type HTTPConfig struct {
	MaxBodyBytes int64         `default:"1048576" usage:"Maximum request body size" flag:"max-body-bytes"`
	ReadTimeout  time.Duration `default:"5s" usage:"Server read timeout"`
	WriteTimeout time.Duration `default:"10s" usage:"Server write timeout"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MARKET",
		Files:     []string{"config.yaml", "/etc/marketplace/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set MARKET_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL, REDIS_URL and PORT
// to the application's MARKET_-prefixed configuration.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			opts, err := goredis.ParseURL(v)
			if err != nil {
				return errors.Wrap(err, "parse REDIS_URL")
			}
			c.Redis.Addr = opts.Addr
			c.Redis.Password = opts.Password
			c.Redis.DB = opts.DB
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	return nil
}
