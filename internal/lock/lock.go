// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package lock implements Redis-backed distributed mutual exclusion with
// a TTL. It is the only mechanism by which the pipeline guarantees "at
// most one side effect" across worker replicas consuming the same,
// possibly redelivered, event.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/opennotes-ai/opennotes-sub003/internal/metrics"
)

// ErrNotHeld is returned by Release when the stored token no longer
// matches this holder: the TTL expired and another holder took over.
var ErrNotHeld = errors.New("lock not held")

// releaseScript deletes the key only when the stored value equals the
// holder token. An unconditional DEL would be a correctness bug: after
// this holder's TTL expires, the key may belong to a new holder, and
// deleting it would release a lock we do not own.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options controls a single acquisition attempt sequence.
type Options struct {
	// TTL is the lifetime of the lock entry in the store.
	TTL time.Duration

	// MaxRetries is the number of additional attempts after the first
	// one fails due to contention.
	MaxRetries int

	// RetryDelay is the fixed backoff between attempts.
	RetryDelay time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		TTL:        30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 50 * time.Millisecond,
	}
}

// Manager acquires locks against a shared Redis store.
type Manager struct {
	client *redis.Client
}

// NewManager creates a lock manager on the given client.
func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// Lock is a held lock. Release it with Release once the protected side
// effect has completed.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Key returns the lock key.
func (l *Lock) Key() string { return l.key }

// Acquire attempts an atomic set-if-absent with TTL using a fresh random
// token. On contention it retries up to opts.MaxRetries with a fixed
// backoff, then returns (nil, nil): a failed acquire is a normal outcome
// meaning "another replica is handling this occurrence", not an error.
// Store unreachability is an error; silently proceeding without the lock
// would break the at-most-once property it exists to provide.
func (m *Manager) Acquire(ctx context.Context, key string, opts Options) (*Lock, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultOptions().RetryDelay
	}

	token := uuid.New().String()

	for attempt := 0; ; attempt++ {
		ok, err := m.client.SetNX(ctx, key, token, opts.TTL).Result()
		if err != nil {
			metrics.LockAcquisitions.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			metrics.LockAcquisitions.WithLabelValues(metrics.OutcomeAcquired).Inc()
			return &Lock{client: m.client, key: key, token: token}, nil
		}

		if attempt >= opts.MaxRetries {
			metrics.LockAcquisitions.WithLabelValues(metrics.OutcomeContended).Inc()
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
}

// Release deletes the lock entry via a compare-and-delete script. It
// returns ErrNotHeld when the entry expired or now belongs to another
// holder; in that case nothing was deleted.
func (l *Lock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %q: %w", l.key, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}
