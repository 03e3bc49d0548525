// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package ratelimit implements a fixed-window per-key quota backed by the
// shared Redis store. It is a non-critical control: when the store is
// unreachable the limiter fails open rather than blocking all traffic.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/opennotes-ai/opennotes-sub003/internal/logging"
	"github.com/opennotes-ai/opennotes-sub003/internal/metrics"
)

// fixedWindowScript increments the counter and starts the window on the
// increment that creates the key. Returning the TTL alongside the count
// keeps the whole check a single round trip.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// Config holds rate limiter settings.
type Config struct {
	// MaxRequests is the quota per window.
	MaxRequests int `koanf:"max_requests" validate:"gt=0"`

	// Window is the fixed window length.
	Window time.Duration `koanf:"window" validate:"gt=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 30,
		Window:      time.Minute,
	}
}

// Result is the outcome of a single Check call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter is a fixed-window counter per logical key, shared across
// worker replicas through Redis.
type Limiter struct {
	client *redis.Client
	cfg    Config
	prefix string
	logger zerolog.Logger
}

// New creates a limiter. keyPrefix is the deployment namespace; keys are
// written under "<keyPrefix>:ratelimit:<id>".
func New(client *redis.Client, keyPrefix string, cfg Config) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultConfig().MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Limiter{
		client: client,
		cfg:    cfg,
		prefix: keyPrefix + ":ratelimit:",
		logger: logging.With().Str("component", "ratelimit").Logger(),
	}
}

func (l *Limiter) key(id string) string { return l.prefix + id }

// Check increments the counter for id and reports whether the request is
// within quota. Store errors fail open: a broken limiter must never block
// traffic, so the caller sees Allowed=true and the error is only logged.
func (l *Limiter) Check(ctx context.Context, id string) Result {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.key(id)}, l.cfg.Window.Milliseconds()).Slice()
	if err != nil {
		metrics.RateLimitChecks.WithLabelValues(metrics.OutcomeFailOpen).Inc()
		l.logger.Warn().Err(err).Str("id", id).Msg("rate limiter unavailable, failing open")
		return Result{Allowed: true, Remaining: l.cfg.MaxRequests}
	}

	count, ttlMs := scriptInts(res)

	resetAt := time.Now().Add(l.cfg.Window)
	if ttlMs > 0 {
		resetAt = time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
	}

	remaining := l.cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	allowed := count <= int64(l.cfg.MaxRequests)
	if allowed {
		metrics.RateLimitChecks.WithLabelValues(metrics.OutcomeAllowed).Inc()
	} else {
		metrics.RateLimitChecks.WithLabelValues(metrics.OutcomeRejected).Inc()
	}

	return Result{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}
}

// Reset deletes the counter for id outright.
func (l *Limiter) Reset(ctx context.Context, id string) error {
	if err := l.client.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("reset rate limit %q: %w", id, err)
	}
	return nil
}

// ActiveWindows counts currently open windows using a cursor SCAN.
// A blocking full-keyspace listing (KEYS) would stall the shared store
// under load, so it is never used here.
func (l *Limiter) ActiveWindows(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := l.client.Scan(ctx, cursor, l.prefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scan rate limit keys: %w", err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// scriptInts extracts the {count, pttl} pair from the Lua reply.
func scriptInts(res []interface{}) (count, ttl int64) {
	if len(res) > 0 {
		if v, ok := res[0].(int64); ok {
			count = v
		}
	}
	if len(res) > 1 {
		if v, ok := res[1].(int64); ok {
			ttl = v
		}
	}
	return count, ttl
}
