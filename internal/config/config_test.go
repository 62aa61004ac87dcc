package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"DB_URL", "REDIS_URL", "REDIS_QUEUE", "WORKER_COUNT", "JOB_BUFFER_SIZE", "HTTP_ADDR",
	"CACHE_TTL", "CAMPS_FILE", "LOG_LEVEL", "UPLOAD_MODE", "ALLOWED_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir()) // keep a developer's .env out of the test
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_URL", "postgres://localhost/kvk")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "kvk_uploads", cfg.RedisQueue)
	require.Equal(t, 1, cfg.WorkerCount)
	require.Equal(t, 100, cfg.JobBufferSize)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
	require.Equal(t, UploadModeSync, cfg.UploadMode)
	require.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	require.Empty(t, cfg.CampsFile)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_URL", "postgres://localhost/kvk")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("UPLOAD_MODE", "Queue")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.WorkerCount)
	require.Equal(t, 30*time.Second, cfg.CacheTTL)
	require.Equal(t, UploadModeQueue, cfg.UploadMode)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing db", env: map[string]string{}, wantErr: "DB_URL is required"},
		{name: "bad worker count", env: map[string]string{"WORKER_COUNT": "x"}, wantErr: "WORKER_COUNT"},
		{name: "zero workers", env: map[string]string{"WORKER_COUNT": "0"}, wantErr: "at least 1"},
		{name: "bad ttl", env: map[string]string{"CACHE_TTL": "soon"}, wantErr: "CACHE_TTL"},
		{name: "queue without redis", env: map[string]string{"UPLOAD_MODE": "queue"}, wantErr: "REDIS_URL is required"},
		{name: "unknown mode", env: map[string]string{"UPLOAD_MODE": "batch"}, wantErr: "UPLOAD_MODE must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if tt.name != "missing db" {
				t.Setenv("DB_URL", "postgres://localhost/kvk")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
