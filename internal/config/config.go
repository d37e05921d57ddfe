// Package config は環境変数からのアプリケーション設定の読み込みを提供する。
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
	DatabaseURL string

	// GitHub
	GitHubToken      string
	GitHubAPIBaseURL string
	GitHubRPS        float64
	GitHubTimeout    time.Duration

	// OpenAI
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Detect
	DetectInterval      time.Duration
	DetectMaxConcurrent int

	// Enqueue
	EnqueueInterval   time.Duration
	EnqueueBatchLimit int

	// Analyze
	AnalyzeWorkers  int
	QueueLease      time.Duration
	ReclaimInterval time.Duration
	StuckAge        time.Duration

	// Notify
	NotifyInterval time.Duration

	// Cleanup
	CleanupInterval time.Duration
	RetentionDays   int

	// Server
	ServerPort string
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

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	// GITHUB_TOKEN未設定の場合はAtomフィードのフォールバックで動作する
	cfg.GitHubToken = getEnvString("GITHUB_TOKEN", "")
	cfg.GitHubAPIBaseURL = getEnvString("GITHUB_API_BASE_URL", "")
	cfg.GitHubRPS = getEnvFloat("GITHUB_RPS", 1.0)
	cfg.GitHubTimeout = getEnvDuration("GITHUB_TIMEOUT", 30*time.Second)

	// OPENAI_API_KEY未設定の場合、解析ワーカーは起動できない
	cfg.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "")

	cfg.DetectInterval = getEnvDuration("DETECT_INTERVAL", 10*time.Minute)
	cfg.DetectMaxConcurrent = getEnvInt("DETECT_MAX_CONCURRENT", 10)
	cfg.EnqueueInterval = getEnvDuration("ENQUEUE_INTERVAL", time.Minute)
	cfg.EnqueueBatchLimit = getEnvInt("ENQUEUE_BATCH_LIMIT", 500)
	cfg.AnalyzeWorkers = getEnvInt("ANALYZE_WORKERS", 4)
	cfg.QueueLease = getEnvDuration("QUEUE_LEASE", 10*time.Minute)
	cfg.ReclaimInterval = getEnvDuration("RECLAIM_INTERVAL", 5*time.Minute)
	cfg.StuckAge = getEnvDuration("STUCK_AGE", 30*time.Minute)
	cfg.NotifyInterval = getEnvDuration("NOTIFY_INTERVAL", 15*time.Minute)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 90)
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
