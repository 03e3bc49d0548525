// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

package coordinator

import (
	"context"

	"github.com/opennotes-ai/opennotes-sub003/internal/events"
	"github.com/opennotes-ai/opennotes-sub003/internal/stream"
)

// Runner consumes score updates from the stream and feeds them to the
// coordinator. Implements suture.Service; the supervisor restarts it on
// failure.
type Runner struct {
	subscriber  *stream.Subscriber
	coordinator *Coordinator
}

// NewRunner wires a subscriber to a coordinator.
func NewRunner(subscriber *stream.Subscriber, c *Coordinator) *Runner {
	return &Runner{subscriber: subscriber, coordinator: c}
}

// Serve consumes until context cancellation.
func (r *Runner) Serve(ctx context.Context) error {
	return r.subscriber.
		NewScoreUpdateHandler(events.SubjectNoteScoreUpdated).
		Handle(r.coordinator.HandleScoreUpdate).
		Run(ctx)
}
