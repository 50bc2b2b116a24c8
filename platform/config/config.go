// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// WorkerConfig provides settings for the asynq worker and task queue.
type WorkerConfig interface {
	GetRedisURL() string
	GetWorkerConcurrency() int
	GetStaleTaskAge() time.Duration
	GetReaperInterval() time.Duration
}

// ObjectStoreConfig provides settings for MinIO S3-compatible storage.
type ObjectStoreConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMaxFileSize() int64
	GetMaxBatchFiles() int
	GetDocumentsBucket() string
	IsMinIOEnabled() bool
}

// ExtractionConfig provides settings for the AI line-item extraction client.
type ExtractionConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	GetMinConfidence() float64
	IsExtractionEnabled() bool
}

// IngestConfig provides request-path limits for batch ingestion.
type IngestConfig interface {
	GetMaxBatchFiles() int
	GetMaxFileSize() int64
	GetUploadRatePerMinute() float64
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                 string
	HTTPAddr            string
	DatabaseURL         string
	RedisURL            string
	WorkerConcurrency   int
	StaleTaskAge        time.Duration
	ReaperInterval      time.Duration
	CORSAllowAll        bool
	CORSOrigins         []string
	CORSAllowCreds      bool
	MinIOEndpoint       string
	MinIOAccessKey      string
	MinIOSecretKey      string
	MinIOUseSSL         bool
	MaxFileSize         int64
	MaxBatchFiles       int
	DocumentsBucket     string
	GeminiAPIKey        string
	GeminiModel         string
	MinConfidence       float64
	UploadRatePerMinute float64
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// WorkerConfig implementation
func (c *Config) GetRedisURL() string               { return c.RedisURL }
func (c *Config) GetWorkerConcurrency() int         { return c.WorkerConcurrency }
func (c *Config) GetStaleTaskAge() time.Duration    { return c.StaleTaskAge }
func (c *Config) GetReaperInterval() time.Duration  { return c.ReaperInterval }

// ObjectStoreConfig implementation
func (c *Config) GetMinIOEndpoint() string  { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool      { return c.MinIOUseSSL }
func (c *Config) GetMaxFileSize() int64     { return c.MaxFileSize }
func (c *Config) GetMaxBatchFiles() int     { return c.MaxBatchFiles }
func (c *Config) GetDocumentsBucket() string {
	return c.DocumentsBucket
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// ExtractionConfig implementation
func (c *Config) GetGeminiAPIKey() string    { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string     { return c.GeminiModel }
func (c *Config) GetMinConfidence() float64  { return c.MinConfidence }
func (c *Config) IsExtractionEnabled() bool  { return c.GeminiAPIKey != "" }

// IngestConfig implementation
func (c *Config) GetUploadRatePerMinute() float64 { return c.UploadRatePerMinute }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                 getEnv("APP_ENV", "development"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		WorkerConcurrency:   mustInt(getEnv("WORKER_CONCURRENCY", "4")),
		StaleTaskAge:        mustDuration(getEnv("STALE_TASK_AGE", "10m")),
		ReaperInterval:      mustDuration(getEnv("REAPER_INTERVAL", "1m")),
		CORSAllowAll:        corsAllowAll,
		CORSOrigins:         corsOrigins,
		CORSAllowCreds:      strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		MinIOEndpoint:       getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:      getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:      getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:         strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MaxFileSize:         mustInt64(getEnv("MAX_FILE_SIZE", "20971520")),
		MaxBatchFiles:       mustInt(getEnv("MAX_BATCH_FILES", "50")),
		DocumentsBucket:     getEnv("MINIO_BUCKET_DOCUMENTS", "source-documents"),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		MinConfidence:       mustFloat(getEnv("EXTRACTION_MIN_CONFIDENCE", "0.6")),
		UploadRatePerMinute: mustFloat(getEnv("UPLOAD_RATE_PER_MINUTE", "30")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if cfg.StaleTaskAge <= 0 || cfg.ReaperInterval <= 0 {
		return nil, fmt.Errorf("STALE_TASK_AGE and REAPER_INTERVAL must be positive durations")
	}
	if cfg.MaxBatchFiles < 1 {
		return nil, fmt.Errorf("MAX_BATCH_FILES must be at least 1")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
