// Package config は環境変数からのアプリケーション設定読み込みを提供する。
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

	// Microsoft Entra ID (Azure AD)
	EntraTenantID     string
	EntraClientID     string
	EntraClientSecret string

	// Session
	// SessionSecretはデプロイ間で安定した値を外部から必ず供給する。
	// プロセス起動ごとに生成すると再起動のたびに全トークンが無効になる。
	SessionSecret string
	SessionTTL    time.Duration

	// State store（CSRF対策stateの保存先）
	StateStoreDriver string // "memory" | "redis"
	StateTTL         time.Duration
	RedisAddr        string
	RedisDB          int

	// Identity provider呼び出し
	ProviderTimeout time.Duration

	// Server
	ServerPort  string
	APIURL      string
	FrontendURL string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// 初期管理者（存在しない場合のみ起動時に作成）
	AdminEmail string
	AdminName  string
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

	cfg.EntraTenantID = os.Getenv("ENTRA_TENANT_ID")
	if cfg.EntraTenantID == "" {
		missing = append(missing, "ENTRA_TENANT_ID")
	}

	cfg.EntraClientID = os.Getenv("ENTRA_CLIENT_ID")
	if cfg.EntraClientID == "" {
		missing = append(missing, "ENTRA_CLIENT_ID")
	}

	cfg.EntraClientSecret = os.Getenv("ENTRA_CLIENT_SECRET")
	if cfg.EntraClientSecret == "" {
		missing = append(missing, "ENTRA_CLIENT_SECRET")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.APIURL = os.Getenv("API_URL")
	if cfg.APIURL == "" {
		missing = append(missing, "API_URL")
	}

	cfg.FrontendURL = os.Getenv("FRONTEND_URL")
	if cfg.FrontendURL == "" {
		missing = append(missing, "FRONTEND_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 192*time.Hour) // 8日
	cfg.StateStoreDriver = getEnvString("STATE_STORE_DRIVER", "memory")
	if cfg.StateStoreDriver != "memory" && cfg.StateStoreDriver != "redis" {
		return nil, fmt.Errorf("invalid STATE_STORE_DRIVER: %s (must be memory or redis)", cfg.StateStoreDriver)
	}
	cfg.StateTTL = getEnvDuration("STATE_TTL", 10*time.Minute)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", strings.HasPrefix(cfg.APIURL, "https://"))
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.FrontendURL)
	cfg.AdminEmail = getEnvString("ADMIN_EMAIL", "")
	cfg.AdminName = getEnvString("ADMIN_NAME", "Admin")

	return cfg, nil
}

// CallbackURL はOAuthコールバックの絶対URLを返す。
func (c *Config) CallbackURL() string {
	return strings.TrimSuffix(c.APIURL, "/") + "/api/v1/auth/callback"
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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
