package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth（identityプロバイダー）
	GoogleClientID     string
	GoogleClientSecret string

	// OAuth（チャンネルプロバイダー）
	FacebookClientID      string
	FacebookClientSecret  string
	TwitterClientID       string
	TwitterClientSecret   string
	LinkedInClientID      string
	LinkedInClientSecret  string
	MicrosoftClientID     string
	MicrosoftClientSecret string

	// OAuthコールバックのリダイレクトURIベース（例: https://api.example.com）
	OAuthRedirectBase string

	// OAuth state
	StateTTL time.Duration

	// Session
	SessionMaxAge int

	// Billing
	BillingWebhookSecret string
	BillingAPIKey        string
	BillingAPIBase       string

	// Outbound HTTP
	OutboundTimeout time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitConnect int

	// Cleanup
	WebhookRetentionDays int

	// Server
	ServerPort  string
	MetricsPort string
	BaseURL     string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	if cfg.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if cfg.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}

	cfg.BillingWebhookSecret = os.Getenv("BILLING_WEBHOOK_SECRET")
	if cfg.BillingWebhookSecret == "" {
		missing = append(missing, "BILLING_WEBHOOK_SECRET")
	}

	cfg.BillingAPIKey = os.Getenv("BILLING_API_KEY")
	if cfg.BillingAPIKey == "" {
		missing = append(missing, "BILLING_API_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	// チャンネルプロバイダーの資格情報は未設定でも起動できる（該当プロバイダーが無効になるだけ）。
	cfg.FacebookClientID = getEnvString("FACEBOOK_CLIENT_ID", "")
	cfg.FacebookClientSecret = getEnvString("FACEBOOK_CLIENT_SECRET", "")
	cfg.TwitterClientID = getEnvString("TWITTER_CLIENT_ID", "")
	cfg.TwitterClientSecret = getEnvString("TWITTER_CLIENT_SECRET", "")
	cfg.LinkedInClientID = getEnvString("LINKEDIN_CLIENT_ID", "")
	cfg.LinkedInClientSecret = getEnvString("LINKEDIN_CLIENT_SECRET", "")
	cfg.MicrosoftClientID = getEnvString("MICROSOFT_CLIENT_ID", "")
	cfg.MicrosoftClientSecret = getEnvString("MICROSOFT_CLIENT_SECRET", "")

	cfg.OAuthRedirectBase = getEnvString("OAUTH_REDIRECT_BASE", cfg.BaseURL)
	cfg.StateTTL = getEnvDuration("OAUTH_STATE_TTL", 10*time.Minute)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800) // 7日
	cfg.BillingAPIBase = getEnvString("BILLING_API_BASE", "https://api.stripe.com")
	cfg.OutboundTimeout = getEnvDuration("OUTBOUND_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitConnect = getEnvInt("RATE_LIMIT_CONNECT", 10)
	cfg.WebhookRetentionDays = getEnvInt("WEBHOOK_RETENTION_DAYS", 90)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
