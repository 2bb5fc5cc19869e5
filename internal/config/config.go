// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// External lookup providers
	ThreatAPIURL       string
	ThreatAPIKey       string
	RegistrationAPIURL string
	RegistrationAPIKey string

	// Analysis
	AnalyzeTimeout    time.Duration
	AnalyzeMaxRetries int
	AnalyzeRetryUnit  time.Duration

	// Queue
	JobConcurrency    int
	QueueMaxAttempts  int
	QueueRetryDelay   time.Duration
	QueuePollInterval time.Duration
	QueueVisibility   time.Duration

	// Sweep
	RetentionWindow time.Duration
	SweepBatchSize  int
	SweepSchedule   string

	// Rate Limit
	RateLimitPerMin int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envが存在する場合は先に読み込む（既存の環境変数が優先）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envはローカル開発用。存在しなくてもエラーにしない。
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ThreatAPIURL = getEnvString("THREAT_API_URL", "")
	cfg.ThreatAPIKey = getEnvString("THREAT_API_KEY", "")
	cfg.RegistrationAPIURL = getEnvString("REGISTRATION_API_URL", "")
	cfg.RegistrationAPIKey = getEnvString("REGISTRATION_API_KEY", "")

	cfg.AnalyzeTimeout = getEnvDuration("ANALYZE_TIMEOUT", 5*time.Second)
	cfg.AnalyzeMaxRetries = getEnvInt("ANALYZE_MAX_RETRIES", 5)
	cfg.AnalyzeRetryUnit = getEnvDuration("ANALYZE_RETRY_UNIT", 500*time.Millisecond)

	cfg.JobConcurrency = getEnvInt("JOB_CONCURRENCY", 2)
	if cfg.JobConcurrency < 1 {
		cfg.JobConcurrency = 1
	}
	cfg.QueueMaxAttempts = getEnvInt("QUEUE_MAX_ATTEMPTS", 3)
	cfg.QueueRetryDelay = getEnvDuration("QUEUE_RETRY_DELAY", 10*time.Second)
	cfg.QueuePollInterval = getEnvDuration("QUEUE_POLL_INTERVAL", time.Second)
	cfg.QueueVisibility = getEnvDuration("QUEUE_VISIBILITY", 5*time.Minute)

	cfg.RetentionWindow = getEnvDuration("RETENTION_WINDOW", 720*time.Hour)
	cfg.SweepBatchSize = getEnvInt("SWEEP_BATCH_SIZE", 100)
	cfg.SweepSchedule = getEnvString("SWEEP_SCHEDULE", "0 0 * * *")

	cfg.RateLimitPerMin = getEnvInt("RATE_LIMIT_PER_MIN", 60)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

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
