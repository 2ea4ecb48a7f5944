package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	DatabaseURL  string
	AuditEnabled bool

	RedisAddr     string
	RedisPassword string

	StoragePath    string
	StorageBaseURL string

	AdminAPIKey string

	// MaxUploadBytes caps any single uploaded file.
	MaxUploadBytes int64

	OCRServiceURL string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AuditEnabled:     getEnvBool("AUDIT_ENABLED", true),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		StoragePath:      getEnv("STORAGE_PATH", "./data"),
		StorageBaseURL:   getEnv("STORAGE_BASE_URL", ""),
		AdminAPIKey:      os.Getenv("ADMIN_API_KEY"),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_MB", 50)) * 1024 * 1024,
		OCRServiceURL:    os.Getenv("OCR_SERVICE_URL"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.AuditEnabled && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when AUDIT_ENABLED is set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
