// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

package events

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Serializer handles event encoding/decoding for stream messages.
type Serializer struct{}

// NewSerializer creates a new serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal validates and encodes an event to JSON bytes.
func (s *Serializer) Marshal(event Event) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("validate event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	return data, nil
}

// UnmarshalScoreUpdate decodes a ScoreUpdateEvent payload.
func (s *Serializer) UnmarshalScoreUpdate(data []byte) (*ScoreUpdateEvent, error) {
	var event ScoreUpdateEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal score update: %w", err)
	}
	return &event, nil
}

// UnmarshalScanBatch decodes a ScanMessageBatch payload.
func (s *Serializer) UnmarshalScanBatch(data []byte) (*ScanMessageBatch, error) {
	var event ScanMessageBatch
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal scan batch: %w", err)
	}
	return &event, nil
}

// MarshalQueued encodes a queue item. Queue items are not enveloped;
// they only ever travel through the bounded queue.
func MarshalQueued(m *QueuedMessage) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal queued message: %w", err)
	}
	return data, nil
}

// UnmarshalQueued decodes a queue item.
func UnmarshalQueued(data []byte) (*QueuedMessage, error) {
	var m QueuedMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal queued message: %w", err)
	}
	return &m, nil
}
