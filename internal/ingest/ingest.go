// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package ingest filters and normalizes inbound chat messages and feeds
// them to the bounded queue. It sits on the hot path of gateway message
// delivery: nothing here may block, and an enqueue failure degrades to a
// log line rather than backpressure on the caller.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opennotes-ai/opennotes-sub003/internal/events"
	"github.com/opennotes-ai/opennotes-sub003/internal/logging"
)

// Embed mirrors the embed content of an inbound message. Only textual
// parts participate in similarity matching.
type Embed struct {
	Title       string
	Description string
	Fields      []EmbedField
}

// EmbedField is a single name/value pair inside an embed.
type EmbedField struct {
	Name  string
	Value string
}

// InboundMessage is a raw chat message as handed over by the gateway
// layer (owned elsewhere).
type InboundMessage struct {
	MessageID string
	ChannelID string
	GuildID   string
	AuthorID  string
	Content   string
	Timestamp time.Time
	Embeds    []Embed

	IsBot     bool
	IsSystem  bool
	IsWebhook bool
}

// ChannelConfigSource resolves the per-channel monitoring configuration.
// The implementation is owned by the guild-configuration service.
type ChannelConfigSource interface {
	ChannelConfig(ctx context.Context, guildID, channelID string) (events.ChannelConfig, error)
}

// Enqueuer is the queue side the pipeline writes to. *queue.Queue
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *events.QueuedMessage) error
}

// Pipeline filters inbound messages and enqueues the survivors.
type Pipeline struct {
	queue   Enqueuer
	configs ChannelConfigSource
	logger  zerolog.Logger
}

// New creates a pipeline. Both collaborators are required; use the
// documented no-op implementations to wire a pipeline without them.
func New(q Enqueuer, configs ChannelConfigSource) *Pipeline {
	return &Pipeline{
		queue:   q,
		configs: configs,
		logger:  logging.With().Str("component", "ingest").Logger(),
	}
}

// HandleMessage inspects one inbound message and enqueues it when it is
// eligible for monitoring. The call never returns an error: every drop
// reason is terminal for the message, and enqueue failures are logged
// and swallowed because a lost enqueue is an acceptable degradation
// while a blocked gateway is not.
func (p *Pipeline) HandleMessage(ctx context.Context, msg InboundMessage) {
	if msg.IsBot || msg.IsSystem || msg.IsWebhook {
		return
	}

	cfg, err := p.configs.ChannelConfig(ctx, msg.GuildID, msg.ChannelID)
	if err != nil {
		p.logger.Warn().Err(err).
			Str("channel_id", msg.ChannelID).
			Msg("channel config lookup failed, dropping message")
		return
	}
	if !cfg.MonitoringEnabled {
		return
	}

	content := ExtractContent(msg)
	if content == "" {
		return
	}

	queued := &events.QueuedMessage{
		MessageID:     msg.MessageID,
		ChannelID:     msg.ChannelID,
		GuildID:       msg.GuildID,
		AuthorID:      msg.AuthorID,
		Content:       content,
		Timestamp:     msg.Timestamp,
		ChannelConfig: cfg,
	}

	if err := p.queue.Enqueue(ctx, queued); err != nil {
		p.logger.Warn().Err(err).
			Str("message_id", msg.MessageID).
			Str("channel_id", msg.ChannelID).
			Msg("enqueue failed, message lost")
	}
}

// ExtractContent collects the message body and all textual embed parts
// (titles, descriptions, field names and values), newline-joined and
// trimmed. An empty result means the message has nothing to match on.
func ExtractContent(msg InboundMessage) string {
	parts := make([]string, 0, 1+len(msg.Embeds)*3)

	if s := strings.TrimSpace(msg.Content); s != "" {
		parts = append(parts, s)
	}

	for _, e := range msg.Embeds {
		if s := strings.TrimSpace(e.Title); s != "" {
			parts = append(parts, s)
		}
		if s := strings.TrimSpace(e.Description); s != "" {
			parts = append(parts, s)
		}
		for _, f := range e.Fields {
			name := strings.TrimSpace(f.Name)
			value := strings.TrimSpace(f.Value)
			switch {
			case name != "" && value != "":
				parts = append(parts, name+": "+value)
			case name != "":
				parts = append(parts, name)
			case value != "":
				parts = append(parts, value)
			}
		}
	}

	return strings.TrimSpace(strings.Join(parts, "\n"))
}
