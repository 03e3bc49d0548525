// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

package events

import (
	"time"
)

// Confidence levels reported by the scoring service.
const (
	// ConfidenceStandard means the score is backed by enough ratings.
	ConfidenceStandard = "standard"
	// ConfidenceProvisional means the score may still move significantly.
	ConfidenceProvisional = "provisional"
)

// Event type names carried in the envelope.
const (
	EventTypeScoreUpdated  = "note.score.updated"
	EventTypeScanBatch     = "bulkscan.batch"
	EventTypeScanCompleted = "bulkscan.completed"
	EventTypeScanResult    = "bulkscan.result"
)

// ScoreUpdateEvent is emitted by the scoring service whenever a note's
// helpfulness score changes. The worker consumes it read-only; the
// payload timestamp is the envelope timestamp.
type ScoreUpdateEvent struct {
	EventMeta

	NoteID      string  `json:"note_id"`
	Score       float64 `json:"score"`
	Confidence  string  `json:"confidence"`
	Algorithm   string  `json:"algorithm,omitempty"`
	RatingCount int     `json:"rating_count"`
	Tier        int     `json:"tier,omitempty"`
	TierName    string  `json:"tier_name,omitempty"`

	// Discord context, present when the note originated from a message.
	OriginalMessageID string `json:"original_message_id,omitempty"`
	ChannelID         string `json:"channel_id,omitempty"`
	CommunityServerID string `json:"community_server_id,omitempty"`
}

// Validate checks required fields and value ranges.
func (e *ScoreUpdateEvent) Validate() error {
	if err := e.ValidateMeta(); err != nil {
		return err
	}
	if e.NoteID == "" {
		return &ValidationError{Field: "note_id", Message: "required"}
	}
	if e.Score < 0 || e.Score > 1 {
		return &ValidationError{Field: "score", Message: "must be in [0, 1]"}
	}
	switch e.Confidence {
	case ConfidenceStandard, ConfidenceProvisional:
	default:
		return &ValidationError{Field: "confidence", Message: "must be standard or provisional"}
	}
	if e.RatingCount < 0 {
		return &ValidationError{Field: "rating_count", Message: "must be non-negative"}
	}
	return nil
}

// ChannelConfig is the per-channel monitoring configuration attached to a
// queued message at enqueue time, so the batch processor never has to
// re-resolve it.
type ChannelConfig struct {
	MonitoringEnabled  bool     `json:"monitoring_enabled"`
	AutoPublishEnabled bool     `json:"auto_publish_enabled"`
	Datasets           []string `json:"datasets,omitempty"`
}

// QueuedMessage is the bounded-queue item created by the ingestion
// pipeline. It is owned exclusively by the queue until a batch tick
// dequeues it, and is never mutated in place; there is no redelivery
// for this queue, failures surface only in logs and metrics.
type QueuedMessage struct {
	MessageID     string        `json:"message_id"`
	ChannelID     string        `json:"channel_id"`
	GuildID       string        `json:"guild_id"`
	AuthorID      string        `json:"author_id"`
	Content       string        `json:"content"`
	Timestamp     time.Time     `json:"timestamp"`
	ChannelConfig ChannelConfig `json:"channel_config"`
}

// Validate checks the fields the batch processor depends on.
func (m *QueuedMessage) Validate() error {
	if m.MessageID == "" {
		return &ValidationError{Field: "message_id", Message: "required"}
	}
	if m.ChannelID == "" {
		return &ValidationError{Field: "channel_id", Message: "required"}
	}
	if m.Content == "" {
		return &ValidationError{Field: "content", Message: "required"}
	}
	return nil
}

// ScanMessageBatch carries a chunk of historical messages for a bulk scan.
type ScanMessageBatch struct {
	EventMeta

	ScanID    string          `json:"scan_id"`
	GuildID   string          `json:"guild_id"`
	ChannelID string          `json:"channel_id"`
	Messages  []QueuedMessage `json:"messages"`
}

// Validate checks required fields.
func (e *ScanMessageBatch) Validate() error {
	if err := e.ValidateMeta(); err != nil {
		return err
	}
	if e.ScanID == "" {
		return &ValidationError{Field: "scan_id", Message: "required"}
	}
	if len(e.Messages) == 0 {
		return &ValidationError{Field: "messages", Message: "must not be empty"}
	}
	return nil
}

// ScanCompleted signals that every batch of a bulk scan has been processed.
type ScanCompleted struct {
	EventMeta

	ScanID          string `json:"scan_id"`
	GuildID         string `json:"guild_id"`
	MessagesScanned int    `json:"messages_scanned"`
	MatchesFound    int    `json:"matches_found"`
}

// Validate checks required fields.
func (e *ScanCompleted) Validate() error {
	if err := e.ValidateMeta(); err != nil {
		return err
	}
	if e.ScanID == "" {
		return &ValidationError{Field: "scan_id", Message: "required"}
	}
	return nil
}

// Scan result actions.
const (
	ScanActionPublished = "auto_published"
	ScanActionRequested = "note_requested"
)

// ScanResult reports a single downstream effect: a note auto-published
// or a note request created. The publish coordinator emits one after
// each successful auto-publish.
type ScanResult struct {
	EventMeta

	ScanID            string `json:"scan_id,omitempty"`
	NoteID            string `json:"note_id,omitempty"`
	Action            string `json:"action"`
	GuildID           string `json:"guild_id,omitempty"`
	ChannelID         string `json:"channel_id"`
	OriginalMessageID string `json:"original_message_id,omitempty"`
}

// Validate checks required fields.
func (e *ScanResult) Validate() error {
	if err := e.ValidateMeta(); err != nil {
		return err
	}
	switch e.Action {
	case ScanActionPublished, ScanActionRequested:
	default:
		return &ValidationError{Field: "action", Message: "unknown action"}
	}
	if e.ChannelID == "" {
		return &ValidationError{Field: "channel_id", Message: "required"}
	}
	return nil
}
