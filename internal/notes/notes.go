// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package notes defines the external collaborators of the pipeline: the
// note/request backend and the Discord delivery capability. Both are
// owned elsewhere; this package pins down the signatures the worker
// needs and provides no-op implementations so call sites never have to
// presence-check an optional collaborator.
package notes

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a note does not exist.
var ErrNotFound = errors.New("note not found")

// Note is a community note as stored by the backend.
type Note struct {
	ID      string
	Content string
	Status  string
	Score   float64
}

// NoteRequestDetails describes a follow-up work item: "this message
// looks like it needs a note".
type NoteRequestDetails struct {
	GuildID   string
	ChannelID string
	MessageID string
	AuthorID  string
	Content   string

	// MatchedNoteID references a prior similar note, when the request
	// was created from a similarity match rather than a fresh search.
	MatchedNoteID string
	Similarity    float64
}

// SimilarityMatch is a single hit from a similarity search.
type SimilarityMatch struct {
	NoteID     string
	Content    string
	Similarity float64
}

// PreviouslySeen is the result of the previously-seen index lookup.
type PreviouslySeen struct {
	Found      bool
	NoteID     string
	Similarity float64
}

// Backend is the note/request service consumed by the batch processor
// and the publish coordinator.
type Backend interface {
	// CreateNoteRequest files a follow-up work item and returns its ID.
	CreateNoteRequest(ctx context.Context, details NoteRequestDetails) (string, error)

	// GetNote fetches a note by ID; ErrNotFound when it does not exist.
	GetNote(ctx context.Context, id string) (*Note, error)

	// SimilaritySearch runs a fresh search of content against the given
	// datasets within a scope (guild), returning matches at or above
	// threshold, at most limit of them.
	SimilaritySearch(ctx context.Context, content, scopeID string, tags []string, threshold float64, limit int) ([]SimilarityMatch, error)

	// CheckPreviouslySeen consults the previously-seen index for content
	// within a scope and channel.
	CheckPreviouslySeen(ctx context.Context, content, scopeID, channelID string) (*PreviouslySeen, error)
}

// ChannelPermissions are the delivery capability's effective permissions
// in a channel.
type ChannelPermissions struct {
	CanSendMessages        bool
	CanCreatePublicThreads bool
}

// Channel is a delivery target fetched by ID.
type Channel struct {
	ID          string
	Name        string
	Permissions ChannelPermissions
}

// Delivery is the capability that posts to Discord. The worker uses it
// only for the publish action and for permission checks.
type Delivery interface {
	// SendMessage posts content to a channel and returns the created
	// message ID.
	SendMessage(ctx context.Context, channelID, content string) (string, error)

	// Channel fetches a channel by ID, including effective permissions.
	Channel(ctx context.Context, channelID string) (*Channel, error)
}

// NoopBackend is the documented absent implementation of Backend. Every
// operation succeeds with an empty result, so pipelines wired without a
// real backend run end to end producing no side effects.
type NoopBackend struct{}

// CreateNoteRequest reports an empty request ID.
func (NoopBackend) CreateNoteRequest(context.Context, NoteRequestDetails) (string, error) {
	return "", nil
}

// GetNote reports ErrNotFound for every ID.
func (NoopBackend) GetNote(context.Context, string) (*Note, error) {
	return nil, ErrNotFound
}

// SimilaritySearch reports no matches.
func (NoopBackend) SimilaritySearch(context.Context, string, string, []string, float64, int) ([]SimilarityMatch, error) {
	return nil, nil
}

// CheckPreviouslySeen reports nothing seen.
func (NoopBackend) CheckPreviouslySeen(context.Context, string, string, string) (*PreviouslySeen, error) {
	return &PreviouslySeen{}, nil
}

// NoopDelivery is the documented absent implementation of Delivery. It
// grants no permissions, so the coordinator's eligibility gate discards
// every event before attempting a publish.
type NoopDelivery struct{}

// SendMessage reports an empty message ID.
func (NoopDelivery) SendMessage(context.Context, string, string) (string, error) {
	return "", nil
}

// Channel reports a channel without any permissions.
func (NoopDelivery) Channel(_ context.Context, id string) (*Channel, error) {
	return &Channel{ID: id}, nil
}
