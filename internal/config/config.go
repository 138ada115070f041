package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// JWT validation. JWTSecret enables HMAC mode; when unset, tokens are
	// validated against the issuer's JWKS endpoint.
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	JWKSURL     string `mapstructure:"JWKS_URL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	// OCR provider settings. The timeout bounds a single extraction call;
	// jobs stuck in processing longer than OCRStaleAfter are failed by the
	// reaper job so the manual fallback unlocks.
	OCRProviderURL   string        `mapstructure:"OCR_PROVIDER_URL"`
	OCRAPIKey        string        `mapstructure:"OCR_API_KEY"`
	OCRTimeout       time.Duration `mapstructure:"OCR_TIMEOUT"`
	OCRStaleAfter    time.Duration `mapstructure:"OCR_STALE_AFTER"`
	MaxImageSizeMB   int64         `mapstructure:"MAX_IMAGE_SIZE_MB"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("OCR_TIMEOUT", "30s")
	v.SetDefault("OCR_STALE_AFTER", "5m")
	v.SetDefault("MAX_IMAGE_SIZE_MB", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("JWT_ISSUER")
	v.BindEnv("JWT_AUDIENCE")
	v.BindEnv("JWKS_URL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("OCR_PROVIDER_URL")
	v.BindEnv("OCR_API_KEY")
	v.BindEnv("OCR_TIMEOUT")
	v.BindEnv("OCR_STALE_AFTER")
	v.BindEnv("MAX_IMAGE_SIZE_MB")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development,
// JWT_SECRET must be set so real authentication is enforced, and an OCR
// provider endpoint must be configured for prescription extraction.
func (c *Config) Validate() error {
	// Development runs against the in-memory repository when no database is
	// configured; everywhere else a DATABASE_URL is mandatory.
	if c.DatabaseURL == "" && !c.IsDev() {
		return fmt.Errorf("DATABASE_URL is required when ENV=%q", c.Env)
	}
	if !c.IsDev() && c.JWTSecret == "" && c.JWTIssuer == "" && c.JWKSURL == "" {
		return fmt.Errorf("one of JWT_SECRET, JWT_ISSUER, or JWKS_URL is required when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.IsProduction() && c.OCRProviderURL == "" {
		return fmt.Errorf("OCR_PROVIDER_URL is required in production")
	}
	if c.OCRTimeout <= 0 {
		return fmt.Errorf("OCR_TIMEOUT must be positive, got %s", c.OCRTimeout)
	}
	if c.OCRStaleAfter < c.OCRTimeout {
		return fmt.Errorf("OCR_STALE_AFTER (%s) must not be shorter than OCR_TIMEOUT (%s)", c.OCRStaleAfter, c.OCRTimeout)
	}
	if c.MaxImageSizeMB <= 0 {
		return fmt.Errorf("MAX_IMAGE_SIZE_MB must be positive, got %d", c.MaxImageSizeMB)
	}
	return nil
}
