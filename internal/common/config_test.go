package common

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("UPLOAD_MAX_SIZE_MB", "")
	t.Setenv("AI_TIMEOUT", "")
	t.Setenv("AI_MAX_RETRIES", "")
	t.Setenv("STORAGE_BACKEND", "")
	cfg := LoadConfig()
	if cfg.Upload.MaxSizeMB != 50 {
		t.Errorf("got %d, want 50", cfg.Upload.MaxSizeMB)
	}
	if cfg.MaxUploadBytes() != 50*1024*1024 {
		t.Errorf("got %d bytes", cfg.MaxUploadBytes())
	}
	if cfg.AI.MaxRetries != 2 {
		t.Errorf("got %d retries, want 2", cfg.AI.MaxRetries)
	}
	if cfg.AI.Timeout != 3*time.Minute {
		t.Errorf("got %v, want 3m", cfg.AI.Timeout)
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("got %q, want local", cfg.Storage.Backend)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("UPLOAD_MAX_SIZE_MB", "10")
	t.Setenv("EXTRACT_CONCURRENCY", "4")
	t.Setenv("QUALITY_REVIEW", "false")
	t.Setenv("AI_PROVIDER", "VERTEX")
	cfg := LoadConfig()
	if cfg.Upload.MaxSizeMB != 10 {
		t.Errorf("got %d, want 10", cfg.Upload.MaxSizeMB)
	}
	if cfg.Pipeline.ExtractConcurrency != 4 || cfg.Pipeline.QualityReview {
		t.Errorf("pipeline config not applied: %+v", cfg.Pipeline)
	}
	if cfg.AI.Provider != "vertex" {
		t.Errorf("got %q, want vertex", cfg.AI.Provider)
	}
}

func TestValidate(t *testing.T) {
	cfg := LoadConfig()
	cfg.AI.Provider = "anthropic"
	cfg.AI.AnthropicAPIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing key error")
	}
	cfg.AI.AnthropicAPIKey = "k"
	cfg.Storage.Backend = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected backend error")
	}
	cfg.Storage.Backend = "local"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
