// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/opennotes/config.yaml",
	"/etc/opennotes/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources with precedence
// ENV > file > defaults, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf paths.
// Unmapped variables are skipped so arbitrary environment content never
// pollutes the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Stream transport
		"nats_url":         "nats.url",
		"nats_embedded":    "nats.embedded_server",
		"nats_store_dir":   "nats.store_dir",
		"nats_max_memory":  "nats.max_memory",
		"nats_max_store":   "nats.max_store",
		"nats_durable":     "nats.durable_name",
		"nats_queue_group": "nats.queue_group",
		"nats_subscribers": "nats.subscribers_count",
		"nats_max_deliver": "nats.max_deliver",
		"nats_ack_wait":    "nats.ack_wait",

		// Shared store
		"redis_addr":          "redis.addr",
		"redis_password":      "redis.password",
		"redis_db":            "redis.db",
		"redis_pool_size":     "redis.pool_size",
		"redis_dial_timeout":  "redis.dial_timeout",
		"redis_read_timeout":  "redis.read_timeout",
		"redis_write_timeout": "redis.write_timeout",
		"redis_key_prefix":    "redis.key_prefix",

		// Bounded queue
		"queue_name":     "queue.name",
		"queue_max_size": "queue.max_size",

		// Rate limiter
		"rate_limit_requests": "ratelimit.max_requests",
		"rate_limit_window":   "ratelimit.window",

		// Batch processor
		"batch_interval":               "batch.interval",
		"batch_size":                   "batch.batch_size",
		"batch_max_concurrent":         "batch.max_concurrent",
		"batch_auto_publish_threshold": "batch.auto_publish_threshold",
		"batch_auto_request_threshold": "batch.auto_request_threshold",
		"batch_similarity_limit":       "batch.similarity_limit",
		"batch_searches_per_second":    "batch.searches_per_second",
		"batch_search_burst":           "batch.search_burst",

		// Publish coordinator
		"publish_threshold":            "publish.publish_threshold",
		"publish_min_standard_ratings": "publish.min_standard_ratings",
		"publish_cooldown":             "publish.cooldown",
		"publish_dedup_ttl":            "publish.dedup_ttl",

		// Ops server
		"ops_host":    "ops.host",
		"ops_port":    "ops.port",
		"ops_timeout": "ops.timeout",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
