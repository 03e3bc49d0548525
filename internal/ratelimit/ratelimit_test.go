// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, "test", Config{MaxRequests: limit, Window: window}), mr
}

func TestLimiter_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to limit with decreasing remaining", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 5, time.Minute)

		for i := 1; i <= 5; i++ {
			res := limiter.Check(ctx, "user-1")
			if !res.Allowed {
				t.Fatalf("Call %d: expected allowed", i)
			}
			if want := 5 - i; res.Remaining != want {
				t.Errorf("Call %d: expected remaining=%d, got %d", i, want, res.Remaining)
			}
		}

		res := limiter.Check(ctx, "user-1")
		if res.Allowed {
			t.Error("Call over limit: expected rejection")
		}
		if res.Remaining != 0 {
			t.Errorf("Expected remaining=0, got %d", res.Remaining)
		}
	})

	t.Run("window reset restores quota", func(t *testing.T) {
		limiter, mr := newTestLimiter(t, 2, time.Second)

		limiter.Check(ctx, "user-2")
		limiter.Check(ctx, "user-2")
		if res := limiter.Check(ctx, "user-2"); res.Allowed {
			t.Fatal("Expected rejection before window reset")
		}

		mr.FastForward(1100 * time.Millisecond)

		if res := limiter.Check(ctx, "user-2"); !res.Allowed {
			t.Fatal("Expected allowance after window reset")
		}
	})

	t.Run("keys are isolated per id", func(t *testing.T) {
		limiter, _ := newTestLimiter(t, 1, time.Minute)

		if res := limiter.Check(ctx, "a"); !res.Allowed {
			t.Fatal("Expected first check for a to pass")
		}
		if res := limiter.Check(ctx, "b"); !res.Allowed {
			t.Fatal("Expected first check for b to pass")
		}
		if res := limiter.Check(ctx, "a"); res.Allowed {
			t.Fatal("Expected second check for a to be rejected")
		}
	})

	t.Run("fails open when store is down", func(t *testing.T) {
		limiter, mr := newTestLimiter(t, 1, time.Minute)
		mr.Close()

		res := limiter.Check(ctx, "user-3")
		if !res.Allowed {
			t.Fatal("Expected fail-open allowance when store is unreachable")
		}
	})
}

func TestLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, 1, time.Minute)

	limiter.Check(ctx, "user-4")
	if res := limiter.Check(ctx, "user-4"); res.Allowed {
		t.Fatal("Expected rejection at limit")
	}

	if err := limiter.Reset(ctx, "user-4"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}

	if res := limiter.Check(ctx, "user-4"); !res.Allowed {
		t.Fatal("Expected allowance after reset")
	}
}

func TestLimiter_ActiveWindows(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newTestLimiter(t, 10, time.Minute)

	for _, id := range []string{"w1", "w2", "w3"} {
		limiter.Check(ctx, id)
	}

	n, err := limiter.ActiveWindows(ctx)
	if err != nil {
		t.Fatalf("ActiveWindows error: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 active windows, got %d", n)
	}
}
