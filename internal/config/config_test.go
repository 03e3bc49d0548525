// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" || !cfg.NATS.EmbeddedServer {
		t.Errorf("Unexpected NATS defaults: %+v", cfg.NATS)
	}
	if cfg.Redis.KeyPrefix != "opennotes" {
		t.Errorf("Expected key prefix opennotes, got %q", cfg.Redis.KeyPrefix)
	}
	if cfg.Queue.MaxSize != 1000 {
		t.Errorf("Expected queue max size 1000, got %d", cfg.Queue.MaxSize)
	}
	if cfg.Publish.PublishThreshold != 0.70 {
		t.Errorf("Expected publish threshold 0.70, got %v", cfg.Publish.PublishThreshold)
	}
	if cfg.Batch.Interval != time.Second {
		t.Errorf("Expected batch interval 1s, got %v", cfg.Batch.Interval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NATS_URL", "nats://stream.internal:4222")
	t.Setenv("NATS_EMBEDDED", "false")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("QUEUE_MAX_SIZE", "500")
	t.Setenv("PUBLISH_THRESHOLD", "0.85")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.NATS.URL != "nats://stream.internal:4222" {
		t.Errorf("Expected env NATS URL, got %q", cfg.NATS.URL)
	}
	if cfg.NATS.EmbeddedServer {
		t.Error("Expected embedded server disabled via env")
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Expected env redis addr, got %q", cfg.Redis.Addr)
	}
	if cfg.Queue.MaxSize != 500 {
		t.Errorf("Expected queue max size 500, got %d", cfg.Queue.MaxSize)
	}
	if cfg.Publish.PublishThreshold != 0.85 {
		t.Errorf("Expected publish threshold 0.85, got %v", cfg.Publish.PublishThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Logging.Level)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
logging:
  level: warn
queue:
  max_size: 250
publish:
  min_standard_ratings: 25
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected file-set level warn, got %q", cfg.Logging.Level)
	}
	if cfg.Queue.MaxSize != 250 {
		t.Errorf("Expected file-set max size 250, got %d", cfg.Queue.MaxSize)
	}
	if cfg.Publish.MinStandardRatings != 25 {
		t.Errorf("Expected file-set min ratings 25, got %d", cfg.Publish.MinStandardRatings)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Expected env to override file, got %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	t.Run("bad log level rejected", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Logging.Level = "verbose"
		if err := cfg.Validate(); err == nil {
			t.Error("Expected validation error for bad log level")
		}
	})

	t.Run("inverted batch thresholds rejected", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Batch.AutoRequestThreshold = 0.95
		cfg.Batch.AutoPublishThreshold = 0.80
		if err := cfg.Validate(); err == nil {
			t.Error("Expected validation error for inverted thresholds")
		}
	})

	t.Run("zero dedup ttl rejected", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Publish.DedupTTL = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Expected validation error for zero dedup TTL")
		}
	})

	t.Run("defaults pass", func(t *testing.T) {
		if err := defaultConfig().Validate(); err != nil {
			t.Errorf("Expected defaults to validate, got %v", err)
		}
	})
}
