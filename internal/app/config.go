package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/event"
)

// Config holds the complete application configuration, loadable from
// environment variables (PROMO_ prefix), flags, or YAML config files.
type Config struct {
	Addr          string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL   string        `usage:"PostgreSQL connection URL (PROMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper  string        `usage:"HMAC pepper for API key hashing (PROMO_API_KEY_PEPPER)" flag:"api-key-pepper"`
	NewUserWindow time.Duration `default:"720h" usage:"Customers registered within this window count as new users" flag:"new-user-window"`
	Engine        EngineConfig
	Cache         CacheConfig
	Events        event.Config
	Expiry        ExpiryConfig
	RateLimit     RateLimitConfig
	Graceful      GracefulConfig
}

// EngineConfig selects how stackable discounts combine.
type EngineConfig struct {
	Stacking string `default:"independent" usage:"Stacking mode: independent or sequential"`
}

// CacheConfig configures the Redis read-through cache for code lookups.
// An empty Addr disables caching.
type CacheConfig struct {
	Addr     string        `default:"" usage:"Redis address (host:port)" flag:"redis-addr"`
	Password string        `default:"" usage:"Redis password" flag:"redis-password"`
	DB       int           `default:"0" usage:"Redis database number" flag:"redis-db"`
	TTL      time.Duration `default:"1m" usage:"Cached policy lifetime" flag:"cache-ttl"`
}

// ExpiryConfig controls the background status sweep.
type ExpiryConfig struct {
	Interval time.Duration `default:"1m" usage:"Interval between expiry sweeps, 0 disables" flag:"expiry-interval"`
}

// RateLimitConfig controls the per-client sliding window rate limiters.
type RateLimitConfig struct {
	Max      int           `default:"100" usage:"Max requests per window"`
	QuoteMax int           `default:"30" usage:"Max quote requests per window and API key" flag:"quote-rate-limit"`
	Window   time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: skipFlags,
		EnvPrefix: "PROMO",
		Files:     []string{"config.yaml", "/etc/promo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set PROMO_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set PROMO_API_KEY_PEPPER")
	}
	switch promo.StackingMode(c.Engine.Stacking) {
	case promo.StackIndependent, promo.StackSequential:
	default:
		return errors.Errorf("unknown stacking mode %q", c.Engine.Stacking)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL, REDIS_URL and PORT to the
// application's PROMO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Cache.Addr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.Cache.Addr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
