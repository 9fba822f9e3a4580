package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Upload   UploadConfig
	Storage  StorageConfig
	AI       AIConfig
	Pipeline PipelineConfig
	OCR      OCRConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	SQLitePath       string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
}

// UploadConfig holds upload limits
type UploadConfig struct {
	MaxSizeMB       int64
	DirectMaxSizeMB int64
}

// StorageConfig selects and configures the blob store
type StorageConfig struct {
	Backend      string // local | gcs
	Dir          string
	BucketPrefix string
	SignerEmail  string
}

// AIConfig holds AI-backend configuration
type AIConfig struct {
	Provider        string // anthropic | vertex | openai
	Model           string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	VertexProject   string
	VertexLocation  string
	Timeout         time.Duration
	MaxRetries      int // SDK-level retries of 429/5xx responses
}

// PipelineConfig holds stage runner tuning
type PipelineConfig struct {
	ExtractConcurrency int
	QualityReview      bool
}

// OCRConfig holds the external text-extraction tools
type OCRConfig struct {
	Pdftotext   string
	Pdftoppm    string
	Tesseract   string
	TessdataDir string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			SQLitePath:       getEnv("SQLITE_PATH", "file:thermo.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":9090"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Upload: UploadConfig{
			MaxSizeMB:       getEnvAsInt64("UPLOAD_MAX_SIZE_MB", 50),
			DirectMaxSizeMB: getEnvAsInt64("DIRECT_UPLOAD_MAX_SIZE_MB", 500),
		},
		Storage: StorageConfig{
			Backend:      strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
			Dir:          getEnv("STORAGE_DIR", "./data"),
			BucketPrefix: getEnv("GCS_BUCKET_PREFIX", ""),
			SignerEmail:  getEnv("GCS_SIGNER_EMAIL", ""),
		},
		AI: AIConfig{
			Provider:        strings.ToLower(getEnv("AI_PROVIDER", "anthropic")),
			Model:           getEnv("AI_MODEL", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			VertexProject:   getEnv("VERTEX_PROJECT", ""),
			VertexLocation:  getEnv("VERTEX_LOCATION", "us-central1"),
			Timeout:         getEnvAsDuration("AI_TIMEOUT", 3*time.Minute),
			MaxRetries:      getEnvAsInt("AI_MAX_RETRIES", 2),
		},
		Pipeline: PipelineConfig{
			ExtractConcurrency: getEnvAsInt("EXTRACT_CONCURRENCY", 2),
			QualityReview:      getEnvAsBool("QUALITY_REVIEW", true),
		},
		OCR: OCRConfig{
			Pdftotext:   getEnv("PDFTOTEXT", "pdftotext"),
			Pdftoppm:    getEnv("PDFTOPPM", "pdftoppm"),
			Tesseract:   getEnv("TESSERACT", "tesseract"),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" && c.Database.SQLitePath == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL or SQLITE_PATH is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Upload.MaxSizeMB <= 0 {
		return NewAppError("CONFIG_ERROR", "UPLOAD_MAX_SIZE_MB must be positive", ErrInvalidInput)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Dir == "" {
			return NewAppError("CONFIG_ERROR", "STORAGE_DIR is required for the local backend", ErrInvalidInput)
		}
	case "gcs":
	default:
		return NewAppError("CONFIG_ERROR", "STORAGE_BACKEND must be local or gcs", ErrInvalidInput)
	}
	switch c.AI.Provider {
	case "anthropic":
		if c.AI.AnthropicAPIKey == "" {
			return NewAppError("CONFIG_ERROR", "ANTHROPIC_API_KEY is required", ErrInvalidInput)
		}
	case "openai":
		if c.AI.OpenAIAPIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
		}
	case "vertex":
		if c.AI.VertexProject == "" {
			return NewAppError("CONFIG_ERROR", "VERTEX_PROJECT is required", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "AI_PROVIDER must be anthropic, vertex or openai", ErrInvalidInput)
	}
	if c.Pipeline.ExtractConcurrency <= 0 {
		c.Pipeline.ExtractConcurrency = 1
	}
	return nil
}

// MaxUploadBytes is the multipart upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.Upload.MaxSizeMB * 1024 * 1024
}
