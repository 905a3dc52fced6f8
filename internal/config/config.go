package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL          string `validate:"required"`
	ProgressDBMaxConns   int    `validate:"min=1"`
	PollInterval         int    `validate:"min=1"` // seconds
	ShutdownTimeout      int    `validate:"min=1"` // seconds
	HTTPAddr             string `validate:"required"`
	LogLevel             string `validate:"oneof=trace debug info warn error"`
	LogFormat            string `validate:"oneof=json text"`
	OpenRouterAPIKey     string
	OpenRouterBaseURL    string `validate:"required,url"`
	ExtractionModel      string `validate:"required"`
	ExtractionTimeout    int    `validate:"min=1"` // seconds
	PdftotextPath        string `validate:"required"`
	UploadDir            string
	MinioEndpoint        string
	MinioAccessKey       string `validate:"required_with=MinioEndpoint"`
	MinioSecretKey       string `validate:"required_with=MinioEndpoint"`
	MinioUseSSL          bool
	MaxConcurrentBatches int    `validate:"min=1"`
	LockFile             string `validate:"required"`
	RecoverOrphans       bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	openRouterAPIKey := os.Getenv("OPENROUTER_API_KEY")
	if openRouterAPIKey == "" {
		fmt.Println("Warning: OPENROUTER_API_KEY not set, invoice extraction will fail for every file")
	}

	cfg := &Config{
		DatabaseURL:          dbURL,
		ProgressDBMaxConns:   envInt("PROGRESS_DB_MAX_CONNS", 2),
		PollInterval:         envInt("POLL_INTERVAL_SECONDS", 10),
		ShutdownTimeout:      envInt("SHUTDOWN_TIMEOUT_SECONDS", 30),
		HTTPAddr:             envString("HTTP_ADDR", ":8080"),
		LogLevel:             envString("LOG_LEVEL", "info"),
		LogFormat:            envString("LOG_FORMAT", "json"),
		OpenRouterAPIKey:     openRouterAPIKey,
		OpenRouterBaseURL:    envString("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		ExtractionModel:      envString("EXTRACTION_MODEL", "openai/gpt-4o-mini"),
		ExtractionTimeout:    envInt("EXTRACTION_TIMEOUT_SECONDS", 120),
		PdftotextPath:        envString("PDFTOTEXT_PATH", "pdftotext"),
		UploadDir:            os.Getenv("UPLOAD_DIR"),
		MinioEndpoint:        os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:       os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:       os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:          envBool("MINIO_USE_SSL", false),
		MaxConcurrentBatches: envInt("MAX_CONCURRENT_BATCHES", 4),
		LockFile:             envString("LOCK_FILE", "/tmp/invoice-worker.lock"),
		RecoverOrphans:       envBool("RECOVER_ORPHANS", true),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Printf("Warning: %s=%q is not an integer, using default %d\n", key, v, def)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		fmt.Printf("Warning: %s=%q is not a boolean, using default %t\n", key, v, def)
		return def
	}
	return b
}
