// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package config loads worker configuration from layered sources:
// struct defaults, an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/opennotes-ai/opennotes-sub003/internal/batch"
	"github.com/opennotes-ai/opennotes-sub003/internal/coordinator"
	"github.com/opennotes-ai/opennotes-sub003/internal/queue"
	"github.com/opennotes-ai/opennotes-sub003/internal/ratelimit"
	"github.com/opennotes-ai/opennotes-sub003/internal/store"
)

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// NATSConfig holds stream transport configuration.
type NATSConfig struct {
	// URL of the stream server; ignored when EmbeddedServer is set.
	URL string `koanf:"url" validate:"required"`

	// EmbeddedServer runs an in-process JetStream server instead of
	// connecting to an external one.
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	DurableName      string        `koanf:"durable_name" validate:"required"`
	QueueGroup       string        `koanf:"queue_group" validate:"required"`
	SubscribersCount int           `koanf:"subscribers_count" validate:"gt=0"`
	MaxDeliver       int           `koanf:"max_deliver" validate:"gt=0"`
	AckWait          time.Duration `koanf:"ack_wait"`
}

// OpsConfig holds the operational HTTP server settings.
type OpsConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// Config is the full worker configuration.
type Config struct {
	Logging   LoggingConfig      `koanf:"logging"`
	NATS      NATSConfig         `koanf:"nats"`
	Redis     store.Config       `koanf:"redis"`
	Queue     queue.Config       `koanf:"queue"`
	RateLimit ratelimit.Config   `koanf:"ratelimit"`
	Batch     batch.Config       `koanf:"batch"`
	Publish   coordinator.Config `koanf:"publish"`
	Ops       OpsConfig          `koanf:"ops"`
}

// defaultConfig returns the full default tree. Defaults are applied
// first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			StoreDir:         "/data/nats/jetstream",
			MaxMemory:        1 << 30,
			MaxStore:         10 << 30,
			DurableName:      "opennotes-worker",
			QueueGroup:       "workers",
			SubscribersCount: 4,
			MaxDeliver:       5,
			AckWait:          30 * time.Second,
		},
		Redis:     store.DefaultConfig(),
		Queue:     queue.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Batch:     batch.DefaultConfig(),
		Publish:   coordinator.DefaultConfig(),
		Ops: OpsConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
	}
}

// Validate checks the loaded configuration, both struct tags and the
// cross-field constraints tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Batch.AutoRequestThreshold > c.Batch.AutoPublishThreshold {
		return fmt.Errorf("batch.auto_request_threshold (%v) must not exceed batch.auto_publish_threshold (%v)",
			c.Batch.AutoRequestThreshold, c.Batch.AutoPublishThreshold)
	}

	if c.Publish.DedupTTL <= 0 {
		return fmt.Errorf("publish.dedup_ttl must be positive")
	}

	return nil
}
