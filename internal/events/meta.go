// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package events defines the versioned event envelope and the payload
// types carried on the OpenNotes stream, plus the queue item exchanged
// between the ingestion pipeline and the batch processor.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the current envelope schema version.
const EnvelopeVersion = "1.0"

// Stream subjects. Each is a distinct logical topic on the shared stream.
const (
	// SubjectNoteScoreUpdated carries ScoreUpdateEvent payloads.
	SubjectNoteScoreUpdated = "notes.score.updated"
	// SubjectScanMessages carries message batches for bulk scans.
	SubjectScanMessages = "bulkscan.messages"
	// SubjectScanCompleted signals a finished bulk scan.
	SubjectScanCompleted = "bulkscan.completed"
	// SubjectScanResults carries per-item scan and publish outcomes.
	SubjectScanResults = "bulkscan.results"
)

// StreamName is the JetStream stream holding all OpenNotes subjects.
const StreamName = "OPENNOTES_EVENTS"

// StreamSubjects returns the subject filters bound to StreamName.
func StreamSubjects() []string {
	return []string{"notes.>", "bulkscan.>"}
}

// EventMeta is the envelope shared by every event on the stream. Payload
// structs embed it, which flattens the payload fields to the top level of
// the JSON object next to the envelope fields.
//
// EventID is the deduplication key: it is globally unique per logical
// occurrence, and a redelivered physical message keeps the ID it was
// first published with. Publishers must never regenerate the ID when
// retrying the same occurrence.
type EventMeta struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Version   string         `json:"version"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEventMeta creates envelope metadata with a fresh event ID and an
// ISO-8601 UTC timestamp.
func NewEventMeta(eventType string, metadata map[string]any) EventMeta {
	return EventMeta{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Version:   EnvelopeVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata:  metadata,
	}
}

// Meta returns the embedded envelope, making any embedding struct an Event.
func (m *EventMeta) Meta() *EventMeta { return m }

// Ensure fills the envelope in place when it is still empty. Subsequent
// calls are no-ops, so a caller retrying a publish keeps the original
// logical identity.
func (m *EventMeta) Ensure(eventType string, metadata map[string]any) {
	if m.EventID != "" {
		return
	}
	*m = NewEventMeta(eventType, metadata)
}

// ValidateMeta checks the envelope invariants.
func (m *EventMeta) ValidateMeta() error {
	if m.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if m.EventType == "" {
		return &ValidationError{Field: "event_type", Message: "required"}
	}
	if m.Version == "" {
		return &ValidationError{Field: "version", Message: "required"}
	}
	return nil
}

// Event is implemented by every payload struct embedding EventMeta.
type Event interface {
	Meta() *EventMeta
	Validate() error
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
