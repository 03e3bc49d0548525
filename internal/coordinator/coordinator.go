// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package coordinator decides whether a scored note gets auto-published
// to its origin channel, and performs the publish exactly once across
// worker replicas: eligibility gate, then distributed lock, then the
// externally visible side effect.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/opennotes-ai/opennotes-sub003/internal/events"
	"github.com/opennotes-ai/opennotes-sub003/internal/lock"
	"github.com/opennotes-ai/opennotes-sub003/internal/logging"
	"github.com/opennotes-ai/opennotes-sub003/internal/metrics"
	"github.com/opennotes-ai/opennotes-sub003/internal/notes"
)

// AutoPublishSettings is the guild/channel toggle pair for auto-posting.
type AutoPublishSettings struct {
	GuildEnabled   bool
	ChannelEnabled bool
}

// GuildSettingsSource resolves auto-publish settings. The implementation
// is owned by the guild-configuration service.
type GuildSettingsSource interface {
	AutoPublishSettings(ctx context.Context, guildID, channelID string) (AutoPublishSettings, error)
}

// EventPublisher emits progress events back onto the stream.
// *stream.Publisher satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, subject, eventType string, event events.Event, metadata map[string]any) error
}

// Config holds coordinator settings.
type Config struct {
	// PublishThreshold is the minimum score, boundary inclusive.
	PublishThreshold float64 `koanf:"publish_threshold" validate:"gte=0,lte=1"`

	// MinStandardRatings qualifies a provisional-confidence score when
	// backed by at least this many ratings.
	MinStandardRatings int `koanf:"min_standard_ratings" validate:"gte=0"`

	// Cooldown is the minimum spacing between auto-posts per channel.
	Cooldown time.Duration `koanf:"cooldown"`

	// DedupTTL bounds dedup key storage. It must comfortably exceed the
	// redelivery horizon of the stream.
	DedupTTL time.Duration `koanf:"dedup_ttl"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PublishThreshold:   0.70,
		MinStandardRatings: 10,
		Cooldown:           10 * time.Minute,
		DedupTTL:           7 * 24 * time.Hour,
	}
}

// Coordinator consumes score updates and auto-publishes eligible notes.
type Coordinator struct {
	cfg       Config
	client    *redis.Client
	keyPrefix string
	locks     *lock.Manager
	lockOpts  lock.Options
	backend   notes.Backend
	delivery  notes.Delivery
	settings  GuildSettingsSource
	publisher EventPublisher
	logger    zerolog.Logger
}

// New creates a coordinator. keyPrefix namespaces the dedup and cooldown
// keys in the shared store.
func New(cfg Config, client *redis.Client, keyPrefix string, locks *lock.Manager,
	backend notes.Backend, delivery notes.Delivery, settings GuildSettingsSource,
	publisher EventPublisher) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		client:    client,
		keyPrefix: keyPrefix,
		locks:     locks,
		lockOpts:  lock.DefaultOptions(),
		backend:   backend,
		delivery:  delivery,
		settings:  settings,
		publisher: publisher,
		logger:    logging.With().Str("component", "coordinator").Logger(),
	}
}

func (c *Coordinator) dedupKey(messageID string) string {
	return c.keyPrefix + ":autopost:" + messageID
}

func (c *Coordinator) cooldownKey(channelID string) string {
	return c.keyPrefix + ":cooldown:" + channelID
}

// HandleScoreUpdate processes one score update to a terminal state:
// discarded or published. A returned error naks the message so the
// stream redelivers it; everything else acks. The dedup key is written
// only after a successful publish, so a redelivery after a failed
// publish retries, while the lock plus the under-lock dedup re-check
// forbid two successful publishes for one occurrence.
func (c *Coordinator) HandleScoreUpdate(ctx context.Context, event *events.ScoreUpdateEvent) error {
	eligible, err := c.checkEligibility(ctx, event)
	if err != nil {
		return err
	}
	if !eligible {
		return nil
	}

	held, err := c.locks.Acquire(ctx, "autopost:note:"+event.NoteID, c.lockOpts)
	if err != nil {
		return fmt.Errorf("acquire publish lock: %w", err)
	}
	if held == nil {
		// Another replica is handling this occurrence.
		metrics.AutoPublishOutcomes.WithLabelValues(metrics.OutcomeLockSkipped).Inc()
		return nil
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			c.logger.Warn().Err(err).Str("key", held.Key()).Msg("lock release failed")
		}
	}()

	// Re-check the dedup key under the lock: a sibling replica may have
	// published between our gate check and the acquire.
	dup, err := c.client.Exists(ctx, c.dedupKey(event.OriginalMessageID)).Result()
	if err != nil {
		return fmt.Errorf("dedup re-check: %w", err)
	}
	if dup > 0 {
		metrics.AutoPublishOutcomes.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return nil
	}

	return c.publish(ctx, event)
}

// checkEligibility evaluates the gate. Returns false for every terminal
// discard; an error only for transient infrastructure failures worth a
// redelivery.
func (c *Coordinator) checkEligibility(ctx context.Context, event *events.ScoreUpdateEvent) (bool, error) {
	if event.OriginalMessageID == "" || event.ChannelID == "" {
		return c.ineligible(event, "no origin message"), nil
	}

	if event.Score < c.cfg.PublishThreshold {
		return c.ineligible(event, "score below threshold"), nil
	}

	if event.Confidence != events.ConfidenceStandard && event.RatingCount < c.cfg.MinStandardRatings {
		return c.ineligible(event, "confidence not established"), nil
	}

	dup, err := c.client.Exists(ctx, c.dedupKey(event.OriginalMessageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	if dup > 0 {
		metrics.AutoPublishOutcomes.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		metrics.StreamRedeliveries.WithLabelValues(events.SubjectNoteScoreUpdated).Inc()
		return false, nil
	}

	cooling, err := c.client.Exists(ctx, c.cooldownKey(event.ChannelID)).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown check: %w", err)
	}
	if cooling > 0 {
		return c.ineligible(event, "channel in cooldown"), nil
	}

	settings, err := c.settings.AutoPublishSettings(ctx, event.CommunityServerID, event.ChannelID)
	if err != nil {
		return false, fmt.Errorf("settings lookup: %w", err)
	}
	if !settings.GuildEnabled || !settings.ChannelEnabled {
		return c.ineligible(event, "auto-publish disabled"), nil
	}

	channel, err := c.delivery.Channel(ctx, event.ChannelID)
	if err != nil {
		return false, fmt.Errorf("channel lookup: %w", err)
	}
	if !channel.Permissions.CanSendMessages || !channel.Permissions.CanCreatePublicThreads {
		// Retrying cannot change a permission gap.
		return c.ineligible(event, "missing channel permissions"), nil
	}

	return true, nil
}

func (c *Coordinator) ineligible(event *events.ScoreUpdateEvent, reason string) bool {
	metrics.AutoPublishOutcomes.WithLabelValues(metrics.OutcomeIneligible).Inc()
	c.logger.Debug().
		Str("note_id", event.NoteID).
		Float64("score", event.Score).
		Str("reason", reason).
		Msg("score update discarded")
	return false
}

// publish performs the externally visible action and the bookkeeping
// that makes it happen at most once.
func (c *Coordinator) publish(ctx context.Context, event *events.ScoreUpdateEvent) error {
	note, err := c.backend.GetNote(ctx, event.NoteID)
	if err != nil {
		return fmt.Errorf("fetch note %s: %w", event.NoteID, err)
	}

	messageID, err := c.delivery.SendMessage(ctx, event.ChannelID, note.Content)
	if err != nil {
		metrics.AutoPublishOutcomes.WithLabelValues(metrics.OutcomePublishFailed).Inc()
		c.logger.Error().Err(err).
			Str("note_id", event.NoteID).
			Str("channel_id", event.ChannelID).
			Msg("auto-publish failed")
		return fmt.Errorf("publish note %s: %w", event.NoteID, err)
	}

	if err := c.client.Set(ctx, c.dedupKey(event.OriginalMessageID), event.NoteID, c.cfg.DedupTTL).Err(); err != nil {
		// The publish already happened. Losing the dedup key risks a
		// duplicate on redelivery, but the lock still narrows the window.
		c.logger.Error().Err(err).
			Str("message_id", event.OriginalMessageID).
			Msg("dedup mark failed after publish")
	}

	if c.cfg.Cooldown > 0 {
		if err := c.client.Set(ctx, c.cooldownKey(event.ChannelID), "1", c.cfg.Cooldown).Err(); err != nil {
			c.logger.Warn().Err(err).
				Str("channel_id", event.ChannelID).
				Msg("cooldown mark failed")
		}
	}

	result := &events.ScanResult{
		NoteID:            event.NoteID,
		Action:            events.ScanActionPublished,
		GuildID:           event.CommunityServerID,
		ChannelID:         event.ChannelID,
		OriginalMessageID: event.OriginalMessageID,
	}
	if err := c.publisher.PublishEvent(ctx, events.SubjectScanResults,
		events.EventTypeScanResult, result, nil); err != nil {
		// Progress reporting is best effort; the publish itself stands.
		c.logger.Warn().Err(err).Str("note_id", event.NoteID).Msg("progress event failed")
	}

	metrics.AutoPublishOutcomes.WithLabelValues(metrics.OutcomePublished).Inc()
	c.logger.Info().
		Str("note_id", event.NoteID).
		Str("channel_id", event.ChannelID).
		Str("published_message_id", messageID).
		Msg("note auto-published")
	return nil
}
