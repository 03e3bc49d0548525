// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/opennotes-ai/opennotes-sub003/internal/events"
	"github.com/opennotes-ai/opennotes-sub003/internal/lock"
	"github.com/opennotes-ai/opennotes-sub003/internal/notes"
)

type fakeSettings struct {
	settings AutoPublishSettings
	err      error
}

func (f *fakeSettings) AutoPublishSettings(context.Context, string, string) (AutoPublishSettings, error) {
	return f.settings, f.err
}

type fakeBackend struct {
	notes.NoopBackend
	noteContent string
}

func (f *fakeBackend) GetNote(_ context.Context, id string) (*notes.Note, error) {
	return &notes.Note{ID: id, Content: f.noteContent}, nil
}

type fakeDelivery struct {
	permissions notes.ChannelPermissions
	sendErr     error
	sent        []string
}

func (f *fakeDelivery) SendMessage(_ context.Context, _ string, content string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, content)
	return fmt.Sprintf("posted-%d", len(f.sent)), nil
}

func (f *fakeDelivery) Channel(_ context.Context, id string) (*notes.Channel, error) {
	return &notes.Channel{ID: id, Permissions: f.permissions}, nil
}

type fakePublisher struct {
	published []events.Event
}

func (f *fakePublisher) PublishEvent(_ context.Context, _, eventType string, event events.Event, metadata map[string]any) error {
	event.Meta().Ensure(eventType, metadata)
	f.published = append(f.published, event)
	return nil
}

type harness struct {
	client      *redis.Client
	coordinator *Coordinator
	delivery    *fakeDelivery
	publisher   *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	delivery := &fakeDelivery{
		permissions: notes.ChannelPermissions{CanSendMessages: true, CanCreatePublicThreads: true},
	}
	publisher := &fakePublisher{}

	c := New(DefaultConfig(), client, "opennotes", lock.NewManager(client),
		&fakeBackend{noteContent: "note body"}, delivery,
		&fakeSettings{settings: AutoPublishSettings{GuildEnabled: true, ChannelEnabled: true}},
		publisher)

	return &harness{client: client, coordinator: c, delivery: delivery, publisher: publisher}
}

func scoreUpdate(score float64) *events.ScoreUpdateEvent {
	e := &events.ScoreUpdateEvent{
		NoteID:            "note-1",
		Score:             score,
		Confidence:        events.ConfidenceStandard,
		RatingCount:       10,
		OriginalMessageID: "msg-1",
		ChannelID:         "chan-1",
		CommunityServerID: "guild-1",
	}
	e.Ensure(events.EventTypeScoreUpdated, nil)
	return e
}

func TestCoordinator_EligibilityBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("threshold is inclusive", func(t *testing.T) {
		h := newHarness(t)

		if err := h.coordinator.HandleScoreUpdate(ctx, scoreUpdate(0.70)); err != nil {
			t.Fatalf("HandleScoreUpdate error: %v", err)
		}
		if len(h.delivery.sent) != 1 {
			t.Fatalf("Expected 1 publish at score 0.70, got %d", len(h.delivery.sent))
		}
		if h.delivery.sent[0] != "note body" {
			t.Errorf("Expected note content published, got %q", h.delivery.sent[0])
		}
	})

	t.Run("just below threshold discards", func(t *testing.T) {
		h := newHarness(t)

		if err := h.coordinator.HandleScoreUpdate(ctx, scoreUpdate(0.69)); err != nil {
			t.Fatalf("HandleScoreUpdate error: %v", err)
		}
		if len(h.delivery.sent) != 0 {
			t.Errorf("Expected no publish at score 0.69, got %d", len(h.delivery.sent))
		}
	})
}

func TestCoordinator_ConfidenceGate(t *testing.T) {
	ctx := context.Background()

	t.Run("provisional with enough ratings passes", func(t *testing.T) {
		h := newHarness(t)

		e := scoreUpdate(0.85)
		e.Confidence = events.ConfidenceProvisional
		e.RatingCount = 10

		if err := h.coordinator.HandleScoreUpdate(ctx, e); err != nil {
			t.Fatalf("HandleScoreUpdate error: %v", err)
		}
		if len(h.delivery.sent) != 1 {
			t.Errorf("Expected publish, got %d", len(h.delivery.sent))
		}
	})

	t.Run("provisional with too few ratings discards", func(t *testing.T) {
		h := newHarness(t)

		e := scoreUpdate(0.85)
		e.Confidence = events.ConfidenceProvisional
		e.RatingCount = 3

		if err := h.coordinator.HandleScoreUpdate(ctx, e); err != nil {
			t.Fatalf("HandleScoreUpdate error: %v", err)
		}
		if len(h.delivery.sent) != 0 {
			t.Errorf("Expected discard, got %d publishes", len(h.delivery.sent))
		}
	})
}

func TestCoordinator_Cooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if err := h.client.Set(ctx, "opennotes:cooldown:chan-1", "1", 0).Err(); err != nil {
		t.Fatalf("seed cooldown: %v", err)
	}

	if err := h.coordinator.HandleScoreUpdate(ctx, scoreUpdate(0.90)); err != nil {
		t.Fatalf("HandleScoreUpdate error: %v", err)
	}
	if len(h.delivery.sent) != 0 {
		t.Errorf("Expected cooldown to block the publish, got %d", len(h.delivery.sent))
	}
}

func TestCoordinator_MissingPermissionsDiscards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.delivery.permissions = notes.ChannelPermissions{CanSendMessages: true}

	if err := h.coordinator.HandleScoreUpdate(ctx, scoreUpdate(0.90)); err != nil {
		t.Fatalf("Expected permission gap to discard without error, got %v", err)
	}
	if len(h.delivery.sent) != 0 {
		t.Errorf("Expected no publish, got %d", len(h.delivery.sent))
	}
}

func TestCoordinator_RedeliveryNeverPublishesTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	event := scoreUpdate(0.90)
	if err := h.coordinator.HandleScoreUpdate(ctx, event); err != nil {
		t.Fatalf("first delivery error: %v", err)
	}

	// Simulated redelivery carries the same logical event.
	if err := h.coordinator.HandleScoreUpdate(ctx, event); err != nil {
		t.Fatalf("redelivery error: %v", err)
	}

	if len(h.delivery.sent) != 1 {
		t.Fatalf("Expected exactly 1 publish across deliveries, got %d", len(h.delivery.sent))
	}

	// Cooldown was armed and the progress event emitted once.
	if n := h.client.Exists(ctx, "opennotes:cooldown:chan-1").Val(); n != 1 {
		t.Error("Expected cooldown key after publish")
	}
	if len(h.publisher.published) != 1 {
		t.Errorf("Expected 1 progress event, got %d", len(h.publisher.published))
	}
	if r, ok := h.publisher.published[0].(*events.ScanResult); !ok || r.Action != events.ScanActionPublished {
		t.Errorf("Expected auto_published progress event, got %+v", h.publisher.published[0])
	}
}

func TestCoordinator_LockContentionSkips(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Another replica holds the note lock.
	if err := h.client.Set(ctx, "autopost:note:note-1", "other-holder", 0).Err(); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	if err := h.coordinator.HandleScoreUpdate(ctx, scoreUpdate(0.90)); err != nil {
		t.Fatalf("Expected contended lock to skip without error, got %v", err)
	}
	if len(h.delivery.sent) != 0 {
		t.Errorf("Expected no publish while lock held elsewhere, got %d", len(h.delivery.sent))
	}
}

func TestCoordinator_FailedPublishRetriesOnRedelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	event := scoreUpdate(0.90)

	h.delivery.sendErr = errors.New("discord 503")
	if err := h.coordinator.HandleScoreUpdate(ctx, event); err == nil {
		t.Fatal("Expected failed publish to surface an error for redelivery")
	}

	// No dedup mark after a failed publish.
	if n := h.client.Exists(ctx, "opennotes:autopost:msg-1").Val(); n != 0 {
		t.Fatal("Expected no dedup key after failed publish")
	}

	h.delivery.sendErr = nil
	if err := h.coordinator.HandleScoreUpdate(ctx, event); err != nil {
		t.Fatalf("redelivery error: %v", err)
	}
	if len(h.delivery.sent) != 1 {
		t.Fatalf("Expected the retry to publish once, got %d", len(h.delivery.sent))
	}
	if n := h.client.Exists(ctx, "opennotes:autopost:msg-1").Val(); n != 1 {
		t.Error("Expected dedup key after successful publish")
	}
}
