// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package queue implements the bounded FIFO work queue decoupling message
// ingestion from batch processing. The queue lives in the shared Redis
// store so every worker replica drains the same backlog; capacity is
// enforced with a drop-oldest overflow policy.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/opennotes-ai/opennotes-sub003/internal/events"
	"github.com/opennotes-ai/opennotes-sub003/internal/logging"
	"github.com/opennotes-ai/opennotes-sub003/internal/metrics"
)

// enqueueScript enforces the capacity ceiling atomically: when the list
// is full the oldest item is evicted and counted before the new item is
// pushed. KEYS[1] is the list, KEYS[2] the overflow counter; ARGV[1] the
// payload, ARGV[2] the max size.
var enqueueScript = redis.NewScript(`
local evicted = 0
local size = redis.call("LLEN", KEYS[1])
if size >= tonumber(ARGV[2]) then
  redis.call("LPOP", KEYS[1])
  redis.call("INCR", KEYS[2])
  evicted = 1
end
redis.call("RPUSH", KEYS[1], ARGV[1])
return {redis.call("LLEN", KEYS[1]), evicted}
`)

// Config holds bounded queue settings.
type Config struct {
	// Name isolates this queue's keys from other queues sharing the store.
	Name string `koanf:"name" validate:"required"`

	// MaxSize is the capacity ceiling.
	MaxSize int `koanf:"max_size" validate:"gt=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Name:    "messages",
		MaxSize: 1000,
	}
}

// Metrics is a point-in-time snapshot of queue state.
type Metrics struct {
	Size          int64
	OverflowCount int64
}

// Queue is a bounded FIFO queue on a Redis list.
type Queue struct {
	client      *redis.Client
	name        string
	key         string
	overflowKey string
	maxSize     int
	logger      zerolog.Logger
}

// New creates a queue. Keys are written under
// "<keyPrefix>:queue:<name>" so multiple queues share one store without
// collision.
func New(client *redis.Client, keyPrefix string, cfg Config) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	key := keyPrefix + ":queue:" + cfg.Name
	return &Queue{
		client:      client,
		name:        cfg.Name,
		key:         key,
		overflowKey: key + ":overflow",
		maxSize:     cfg.MaxSize,
		logger:      logging.With().Str("component", "queue").Str("queue", cfg.Name).Logger(),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue appends an item, evicting the oldest one first when the queue
// is at capacity. A store error is returned to the caller: an enqueue
// that silently vanishes would break the queue's delivery contract.
func (q *Queue) Enqueue(ctx context.Context, msg *events.QueuedMessage) error {
	data, err := events.MarshalQueued(msg)
	if err != nil {
		return err
	}

	res, err := enqueueScript.Run(ctx, q.client, []string{q.key, q.overflowKey}, data, q.maxSize).Slice()
	if err != nil {
		metrics.QueueEnqueueErrors.WithLabelValues(q.name).Inc()
		return fmt.Errorf("enqueue to %q: %w", q.name, err)
	}

	if len(res) == 2 {
		if size, ok := res[0].(int64); ok {
			metrics.QueueDepth.WithLabelValues(q.name).Set(float64(size))
		}
		if evicted, ok := res[1].(int64); ok && evicted == 1 {
			metrics.QueueOverflowTotal.WithLabelValues(q.name).Inc()
		}
	}
	return nil
}

// DequeueBatch pops up to n oldest items atomically; no item is handed
// to two concurrent callers. Items that fail to decode are dropped with
// a log line rather than poisoning the batch.
func (q *Queue) DequeueBatch(ctx context.Context, n int) ([]*events.QueuedMessage, error) {
	if n <= 0 {
		return nil, nil
	}

	raw, err := q.client.LPopCount(ctx, q.key, n).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue from %q: %w", q.name, err)
	}

	items := make([]*events.QueuedMessage, 0, len(raw))
	for _, r := range raw {
		msg, err := events.UnmarshalQueued([]byte(r))
		if err != nil {
			q.logger.Warn().Err(err).Msg("dropping undecodable queue item")
			continue
		}
		items = append(items, msg)
	}

	if size, err := q.client.LLen(ctx, q.key).Result(); err == nil {
		metrics.QueueDepth.WithLabelValues(q.name).Set(float64(size))
	}

	return items, nil
}

// Size returns the current queue depth.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	size, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("size of %q: %w", q.name, err)
	}
	return size, nil
}

// GetMetrics returns the current depth and the cumulative overflow count.
func (q *Queue) GetMetrics(ctx context.Context) (Metrics, error) {
	size, err := q.Size(ctx)
	if err != nil {
		return Metrics{}, err
	}

	overflow, err := q.client.Get(ctx, q.overflowKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Metrics{}, fmt.Errorf("overflow count of %q: %w", q.name, err)
	}

	metrics.QueueDepth.WithLabelValues(q.name).Set(float64(size))
	return Metrics{Size: size, OverflowCount: overflow}, nil
}
