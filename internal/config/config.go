package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Loan
	LateFeePerDay     int
	LoanTxMaxAttempts int
	LoanTxBaseDelay   time.Duration
	LoanLockTimeout   time.Duration

	// Rate Limit（リクエスト数/分）
	RateLimitGeneral  int
	RateLimitCheckout int

	// Idempotency（RedisURLが空の場合は無効）
	RedisURL       string
	IdempotencyTTL time.Duration

	// Server
	ServerPort string

	// Logging
	LogLevel string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が範囲外の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.LateFeePerDay = getEnvInt("LATE_FEE_PER_DAY", 3)
	cfg.LoanTxMaxAttempts = getEnvInt("LOAN_TX_MAX_ATTEMPTS", 5)
	cfg.LoanTxBaseDelay = getEnvDuration("LOAN_TX_BASE_DELAY", 10*time.Millisecond)
	cfg.LoanLockTimeout = getEnvDuration("LOAN_LOCK_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCheckout = getEnvInt("RATE_LIMIT_CHECKOUT", 20)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.IdempotencyTTL = getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は正の値が必要な設定を検査する。
func (c *Config) validate() error {
	positive := []struct {
		name  string
		value int64
	}{
		{"DB_MAX_OPEN_CONNS", int64(c.DBMaxOpenConns)},
		{"SESSION_MAX_AGE", int64(c.SessionMaxAge)},
		{"LOAN_TX_MAX_ATTEMPTS", int64(c.LoanTxMaxAttempts)},
		{"RATE_LIMIT_GENERAL", int64(c.RateLimitGeneral)},
		{"RATE_LIMIT_CHECKOUT", int64(c.RateLimitCheckout)},
		{"SESSION_CLEANUP_INTERVAL", int64(c.SessionCleanupInterval)},
		{"IDEMPOTENCY_TTL", int64(c.IdempotencyTTL)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if c.LateFeePerDay < 0 {
		return fmt.Errorf("LATE_FEE_PER_DAY must not be negative")
	}
	if c.LoanTxBaseDelay < 0 || c.LoanLockTimeout < 0 {
		return fmt.Errorf("LOAN_TX_BASE_DELAY and LOAN_LOCK_TIMEOUT must not be negative")
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
