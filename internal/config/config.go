// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/ghosted/internal/logger"
)

// ErrMailerNotConfigured はメール送信に必要な設定がないことを表す。
var ErrMailerNotConfigured = errors.New("RESEND_API_KEY is not set")

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Supabase Auth
	SupabaseURL            string
	SupabaseServiceRoleKey string
	JWKSURL                string
	JWTIssuer              string
	JWTAudience            string
	JWTAlgorithms          []string
	JWKSMaxAge             time.Duration
	JWKSRefreshPerMinute   int

	// Storage (S3互換)
	StorageS3Endpoint  string
	StorageS3Region    string
	StorageS3AccessKey string
	StorageS3SecretKey string
	StorageBucket      string

	// CORS
	CORSAllowedOrigins []string

	// Rate Limit
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RedisURL          string

	// Email
	ResendAPIKey string
	EmailDomain  string
	AppURL       string

	// Nudge
	NudgeStaleAfter     time.Duration
	NudgeCooldown       time.Duration
	NudgeInterval       time.Duration
	NudgeTriggerSecret  string
	NudgeMaxConcurrency int

	// Server
	ServerPort string

	// Logging
	LogLevel slog.Level
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

	cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	if cfg.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SupabaseServiceRoleKey = getEnvString("SUPABASE_SERVICE_ROLE_KEY", "")
	cfg.JWKSURL = getEnvString("JWKS_URL", cfg.SupabaseURL+"/auth/v1/.well-known/jwks.json")
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", cfg.SupabaseURL+"/auth/v1")
	cfg.JWTAudience = getEnvString("JWT_AUDIENCE", "authenticated")
	cfg.JWTAlgorithms = getEnvList("JWT_ALGORITHMS", []string{"ES256"})
	cfg.JWKSMaxAge = getEnvDuration("JWKS_MAX_AGE", 10*time.Minute)
	cfg.JWKSRefreshPerMinute = getEnvInt("JWKS_REFRESH_PER_MINUTE", 5)

	cfg.StorageS3Endpoint = getEnvString("STORAGE_S3_ENDPOINT", cfg.SupabaseURL+"/storage/v1/s3")
	cfg.StorageS3Region = getEnvString("STORAGE_S3_REGION", "us-east-1")
	cfg.StorageS3AccessKey = getEnvString("STORAGE_S3_ACCESS_KEY", "")
	cfg.StorageS3SecretKey = getEnvString("STORAGE_S3_SECRET_KEY", "")
	cfg.StorageBucket = getEnvString("STORAGE_BUCKET", "cv")

	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"})

	cfg.RateLimitRequests = getEnvInt("RATE_LIMIT_REQUESTS", 25)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second)
	cfg.RedisURL = getEnvString("REDIS_URL", "")

	cfg.ResendAPIKey = getEnvString("RESEND_API_KEY", "")
	cfg.EmailDomain = getEnvString("EMAIL_DOMAIN", "ghosted.ptrclmd.dev")
	cfg.AppURL = strings.TrimRight(getEnvString("APP_URL", "http://localhost:5173"), "/")

	cfg.NudgeStaleAfter = getEnvDuration("NUDGE_STALE_AFTER", 7*24*time.Hour)
	cfg.NudgeCooldown = getEnvDuration("NUDGE_COOLDOWN", 7*24*time.Hour)
	cfg.NudgeInterval = getEnvDuration("NUDGE_INTERVAL", 7*24*time.Hour)
	cfg.NudgeTriggerSecret = getEnvString("NUDGE_TRIGGER_SECRET", "")
	cfg.NudgeMaxConcurrency = getEnvInt("NUDGE_MAX_CONCURRENCY", 4)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel, _ = logger.ParseLevel(os.Getenv("LOG_LEVEL"))

	return cfg, nil
}

// EmailFrom は催促メールの差出人を返す。
func (c *Config) EmailFrom() string {
	return fmt.Sprintf("Ghosted <no-reply@%s>", c.EmailDomain)
}

// RequireMailer はメール送信に必要な設定が揃っているかを検証する。
// worker・notifyサブコマンドの起動時に使用する。
func (c *Config) RequireMailer() error {
	if c.ResendAPIKey == "" {
		return ErrMailerNotConfigured
	}
	return nil
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

// getEnvList はカンマ区切りの値を要素ごとにトリムして返す。空要素は除く。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
