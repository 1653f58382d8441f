package config

import (
	"os"
	"testing"
)

func TestLoad_UsesDefaultsWhenUnset(t *testing.T) {
	for _, key := range []string{"TASKRT_WORKERS", "TASKRT_QUEUE_CAPACITY", "TASKRT_DEFAULT_RETRIES", "TASKRT_LOG_LEVEL"} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != 4 {
		t.Errorf("expected default Workers 4, got %d", cfg.Workers)
	}
	if cfg.QueueCapacity != 0 {
		t.Errorf("expected default QueueCapacity 0, got %d", cfg.QueueCapacity)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default LogLevel info, got %q", cfg.LogLevel)
	}
}

func TestLoad_ReadsOverridesFromEnvironment(t *testing.T) {
	t.Setenv("TASKRT_WORKERS", "8")
	t.Setenv("TASKRT_QUEUE_CAPACITY", "100")
	t.Setenv("TASKRT_DEFAULT_RETRIES", "3")
	t.Setenv("TASKRT_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected Workers 8, got %d", cfg.Workers)
	}
	if cfg.QueueCapacity != 100 {
		t.Errorf("expected QueueCapacity 100, got %d", cfg.QueueCapacity)
	}
	if cfg.DefaultRetries != 3 {
		t.Errorf("expected DefaultRetries 3, got %d", cfg.DefaultRetries)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel debug, got %q", cfg.LogLevel)
	}
}
