package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Upload modes accepted by UPLOAD_MODE.
const (
	UploadModeSync  = "sync"
	UploadModeQueue = "queue"
)

// Config holds runtime configuration for the worker, server and CLI.
type Config struct {
	DBURL          string
	RedisURL       string
	RedisQueue     string
	WorkerCount    int
	JobBufferSize  int
	HTTPAddr       string
	CacheTTL       time.Duration
	CampsFile      string // empty selects the built-in camp table
	LogLevel       string
	UploadMode     string
	AllowedOrigins []string
}

// Load builds a Config from environment variables, reading .env first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBURL:      os.Getenv("DB_URL"),
		RedisURL:   os.Getenv("REDIS_URL"),
		RedisQueue: getEnv("REDIS_QUEUE", "kvk_uploads"),
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		CampsFile:  os.Getenv("CAMPS_FILE"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		UploadMode: strings.ToLower(getEnv("UPLOAD_MODE", UploadModeSync)),
	}

	if cfg.DBURL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}

	var err error
	if cfg.WorkerCount, err = getInt("WORKER_COUNT", 1); err != nil {
		return nil, err
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if cfg.JobBufferSize, err = getInt("JOB_BUFFER_SIZE", 100); err != nil {
		return nil, err
	}

	cfg.CacheTTL = 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if cfg.CacheTTL, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("CACHE_TTL: %w", err)
		}
	}

	switch cfg.UploadMode {
	case UploadModeSync:
	case UploadModeQueue:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when UPLOAD_MODE=queue")
		}
	default:
		return nil, fmt.Errorf("UPLOAD_MODE must be %q or %q, got %q", UploadModeSync, UploadModeQueue, cfg.UploadMode)
	}

	for _, origin := range strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
