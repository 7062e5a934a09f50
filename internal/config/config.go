// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hitoshi/accountcore/internal/model"
)

// minSigningKeyBytes はHS256署名鍵の最小長。
const minSigningKeyBytes = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Cache
	RedisURL     string        `env:"REDIS_URL"`
	CacheTimeout time.Duration `env:"CACHE_TIMEOUT" envDefault:"2s"`

	// Token
	JWTSigningKey      string `env:"JWT_SIGNING_KEY"`
	JWTIssuer          string `env:"JWT_ISSUER"`
	JWTAudience        string `env:"JWT_AUDIENCE"`
	JWTLifetimeMinutes int    `env:"JWT_LIFETIME_MINUTES" envDefault:"60"`

	// Password
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"24h"`
	BcryptCost    int           `env:"BCRYPT_COST" envDefault:"12"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Notification
	NotifyStream string `env:"NOTIFY_STREAM" envDefault:"notifications:email"`
	NotifyBuffer int    `env:"NOTIFY_BUFFER" envDefault:"256"`

	// Worker
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	// Rate Limit（req/min）
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// Cookie（OAuth stateのみ）
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGIN" envSeparator:"," envDefault:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は不足分をすべて列挙したエラーを返す。
// 値が不正な場合は model.ErrMisconfiguration をラップしたエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse environment: %v", model.ErrMisconfiguration, err)
	}

	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"REDIS_URL", cfg.RedisURL},
		{"JWT_SIGNING_KEY", cfg.JWTSigningKey},
		{"JWT_ISSUER", cfg.JWTIssuer},
		{"JWT_AUDIENCE", cfg.JWTAudience},
		{"GOOGLE_CLIENT_ID", cfg.GoogleClientID},
		{"GOOGLE_CLIENT_SECRET", cfg.GoogleClientSecret},
		{"GOOGLE_REDIRECT_URL", cfg.GoogleRedirectURL},
		{"BASE_URL", cfg.BaseURL},
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: required environment variables are not set: %v", model.ErrMisconfiguration, missing)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []string

	if len(c.JWTSigningKey) < minSigningKeyBytes {
		problems = append(problems, fmt.Sprintf("JWT_SIGNING_KEY must be at least %d bytes", minSigningKeyBytes))
	}
	if c.JWTLifetimeMinutes <= 0 {
		problems = append(problems, "JWT_LIFETIME_MINUTES must be positive")
	}
	if c.ResetTokenTTL <= 0 {
		problems = append(problems, "RESET_TOKEN_TTL must be positive")
	}
	if c.CacheTimeout <= 0 {
		problems = append(problems, "CACHE_TIMEOUT must be positive")
	}
	if c.NotifyBuffer <= 0 {
		problems = append(problems, "NOTIFY_BUFFER must be positive")
	}
	if c.SweepInterval <= 0 {
		problems = append(problems, "SWEEP_INTERVAL must be positive")
	}
	if c.RateLimitLogin <= 0 || c.RateLimitGeneral <= 0 {
		problems = append(problems, "RATE_LIMIT_LOGIN and RATE_LIMIT_GENERAL must be positive")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", model.ErrMisconfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// JWTLifetime はアクセストークンの有効期間を返す。
func (c *Config) JWTLifetime() time.Duration {
	return time.Duration(c.JWTLifetimeMinutes) * time.Minute
}

// ParseLogLevel はLOG_LEVELの値をslog.Levelに変換する。
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
}
