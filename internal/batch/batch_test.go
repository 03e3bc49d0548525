// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opennotes-ai/opennotes-sub003/internal/events"
	"github.com/opennotes-ai/opennotes-sub003/internal/notes"
	"github.com/opennotes-ai/opennotes-sub003/internal/ratelimit"
)

type fakeDequeuer struct {
	mu    sync.Mutex
	items []*events.QueuedMessage
}

func (f *fakeDequeuer) DequeueBatch(_ context.Context, n int) ([]*events.QueuedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > len(f.items) {
		n = len(f.items)
	}
	out := f.items[:n]
	f.items = f.items[n:]
	return out, nil
}

func (f *fakeDequeuer) Size(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.items)), nil
}

type fakeBackend struct {
	mu sync.Mutex

	seen    map[string]*notes.PreviouslySeen
	notes   map[string]*notes.Note
	matches map[string][]notes.SimilarityMatch

	failCreateFor map[string]bool
	blockCreate   chan struct{}

	requests []notes.NoteRequestDetails
	searches int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		seen:          map[string]*notes.PreviouslySeen{},
		notes:         map[string]*notes.Note{},
		matches:       map[string][]notes.SimilarityMatch{},
		failCreateFor: map[string]bool{},
	}
}

func (f *fakeBackend) CreateNoteRequest(_ context.Context, d notes.NoteRequestDetails) (string, error) {
	if f.blockCreate != nil {
		<-f.blockCreate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateFor[d.Content] {
		return "", errors.New("backend rejected request")
	}
	f.requests = append(f.requests, d)
	return fmt.Sprintf("req-%d", len(f.requests)), nil
}

func (f *fakeBackend) GetNote(_ context.Context, id string) (*notes.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok {
		return nil, notes.ErrNotFound
	}
	return n, nil
}

func (f *fakeBackend) SimilaritySearch(_ context.Context, content, _ string, _ []string, _ float64, _ int) ([]notes.SimilarityMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	return f.matches[content], nil
}

func (f *fakeBackend) CheckPreviouslySeen(_ context.Context, content, _, _ string) (*notes.PreviouslySeen, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.seen[content]; ok {
		return s, nil
	}
	return &notes.PreviouslySeen{}, nil
}

type fakeDelivery struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeDelivery) SendMessage(_ context.Context, _ string, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return fmt.Sprintf("sent-%d", len(f.sent)), nil
}

func (f *fakeDelivery) Channel(_ context.Context, id string) (*notes.Channel, error) {
	return &notes.Channel{ID: id}, nil
}

func queuedItem(id, content string) *events.QueuedMessage {
	return &events.QueuedMessage{
		MessageID: id,
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		AuthorID:  "author-1",
		Content:   content,
		Timestamp: time.Now(),
		ChannelConfig: events.ChannelConfig{
			MonitoringEnabled: true,
			Datasets:          []string{"default"},
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SearchesPerSecond = 1000
	cfg.SearchBurst = 1000
	return cfg
}

func TestProcessor_AllSettledAccounting(t *testing.T) {
	q := &fakeDequeuer{}
	backend := newFakeBackend()
	for i := 0; i < 5; i++ {
		content := fmt.Sprintf("content-%d", i)
		q.items = append(q.items, queuedItem(fmt.Sprintf("m-%d", i), content))
		backend.matches[content] = []notes.SimilarityMatch{{NoteID: "n-1", Similarity: 0.8}}
	}
	// Two items fail at request creation; siblings still succeed.
	backend.failCreateFor["content-1"] = true
	backend.failCreateFor["content-3"] = true

	p := New(testConfig(), q, backend, &fakeDelivery{}, nil)
	if !p.ProcessBatch(context.Background()) {
		t.Fatal("Expected tick to run")
	}

	stats := p.Stats()
	if stats.Batches != 1 {
		t.Errorf("Expected 1 batch, got %d", stats.Batches)
	}
	if stats.ItemsSucceeded+stats.ItemsFailed != 5 {
		t.Errorf("Expected success+failure == 5, got %d+%d",
			stats.ItemsSucceeded, stats.ItemsFailed)
	}
	if stats.ItemsFailed != 2 {
		t.Errorf("Expected 2 failures, got %d", stats.ItemsFailed)
	}
	if len(backend.requests) != 3 {
		t.Errorf("Expected 3 created requests, got %d", len(backend.requests))
	}
}

func TestProcessor_RepublishesCachedNote(t *testing.T) {
	q := &fakeDequeuer{items: []*events.QueuedMessage{queuedItem("m-1", "known claim")}}
	backend := newFakeBackend()
	backend.seen["known claim"] = &notes.PreviouslySeen{Found: true, NoteID: "n-7", Similarity: 0.95}
	backend.notes["n-7"] = &notes.Note{ID: "n-7", Content: "the note text"}
	delivery := &fakeDelivery{}

	p := New(testConfig(), q, backend, delivery, nil)
	p.ProcessBatch(context.Background())

	if len(delivery.sent) != 1 || delivery.sent[0] != "the note text" {
		t.Fatalf("Expected cached note republished, sent=%v", delivery.sent)
	}
	if len(backend.requests) != 0 {
		t.Errorf("Expected no note request, got %d", len(backend.requests))
	}
	if backend.searches != 0 {
		t.Errorf("Expected no fresh search, got %d", backend.searches)
	}
}

func TestProcessor_AutoRequestBand(t *testing.T) {
	q := &fakeDequeuer{items: []*events.QueuedMessage{queuedItem("m-1", "similar claim")}}
	backend := newFakeBackend()
	backend.seen["similar claim"] = &notes.PreviouslySeen{Found: true, NoteID: "n-3", Similarity: 0.80}

	p := New(testConfig(), q, backend, &fakeDelivery{}, nil)
	p.ProcessBatch(context.Background())

	if len(backend.requests) != 1 {
		t.Fatalf("Expected 1 note request, got %d", len(backend.requests))
	}
	req := backend.requests[0]
	if req.MatchedNoteID != "n-3" || req.Similarity != 0.80 {
		t.Errorf("Expected request referencing n-3@0.80, got %+v", req)
	}
	if backend.searches != 0 {
		t.Errorf("Expected no fresh search for an in-band hit, got %d", backend.searches)
	}
}

func TestProcessor_FreshSearch(t *testing.T) {
	t.Run("match creates request", func(t *testing.T) {
		q := &fakeDequeuer{items: []*events.QueuedMessage{queuedItem("m-1", "new claim")}}
		backend := newFakeBackend()
		backend.matches["new claim"] = []notes.SimilarityMatch{
			{NoteID: "n-9", Similarity: 0.75},
			{NoteID: "n-4", Similarity: 0.71},
		}

		p := New(testConfig(), q, backend, &fakeDelivery{}, nil)
		p.ProcessBatch(context.Background())

		if backend.searches != 1 {
			t.Fatalf("Expected 1 search, got %d", backend.searches)
		}
		if len(backend.requests) != 1 || backend.requests[0].MatchedNoteID != "n-9" {
			t.Fatalf("Expected request for best match n-9, got %+v", backend.requests)
		}
	})

	t.Run("no match does nothing", func(t *testing.T) {
		q := &fakeDequeuer{items: []*events.QueuedMessage{queuedItem("m-1", "unmatched")}}
		backend := newFakeBackend()

		p := New(testConfig(), q, backend, &fakeDelivery{}, nil)
		p.ProcessBatch(context.Background())

		if len(backend.requests) != 0 {
			t.Errorf("Expected no requests, got %d", len(backend.requests))
		}
		if stats := p.Stats(); stats.ItemsSucceeded != 1 {
			t.Errorf("Expected a no-match item to count as success, got %+v", stats)
		}
	})
}

type fakeLimiter struct {
	allow  int
	checks int
}

func (f *fakeLimiter) Check(context.Context, string) ratelimit.Result {
	f.checks++
	return ratelimit.Result{Allowed: f.checks <= f.allow, ResetAt: time.Now().Add(time.Minute)}
}

func TestProcessor_RequestQuota(t *testing.T) {
	q := &fakeDequeuer{}
	backend := newFakeBackend()
	for i := 0; i < 4; i++ {
		content := fmt.Sprintf("claim-%d", i)
		q.items = append(q.items, queuedItem(fmt.Sprintf("m-%d", i), content))
		backend.seen[content] = &notes.PreviouslySeen{Found: true, NoteID: "n-1", Similarity: 0.80}
	}
	limiter := &fakeLimiter{allow: 2}

	cfg := testConfig()
	cfg.MaxConcurrent = 1 // deterministic limiter ordering
	p := New(cfg, q, backend, &fakeDelivery{}, limiter)
	p.ProcessBatch(context.Background())

	if len(backend.requests) != 2 {
		t.Errorf("Expected 2 requests within quota, got %d", len(backend.requests))
	}
	// Over-quota items are dropped, not failed.
	if stats := p.Stats(); stats.ItemsFailed != 0 || stats.ItemsSucceeded != 4 {
		t.Errorf("Expected all items to settle as success, got %+v", stats)
	}
}

func TestProcessor_SingleFlight(t *testing.T) {
	q := &fakeDequeuer{items: []*events.QueuedMessage{queuedItem("m-1", "slow claim")}}
	backend := newFakeBackend()
	backend.matches["slow claim"] = []notes.SimilarityMatch{{NoteID: "n-1", Similarity: 0.8}}
	backend.blockCreate = make(chan struct{})

	p := New(testConfig(), q, backend, &fakeDelivery{}, nil)

	done := make(chan struct{})
	go func() {
		p.ProcessBatch(context.Background())
		close(done)
	}()

	// Wait until the first tick is inside the blocked backend call.
	deadline := time.After(2 * time.Second)
	for {
		if p.busy.Load() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("First tick never started")
		case <-time.After(time.Millisecond):
		}
	}

	if p.ProcessBatch(context.Background()) {
		t.Error("Expected overlapping tick to be skipped")
	}

	close(backend.blockCreate)
	<-done
}

func TestProcessor_TracksMaxDepth(t *testing.T) {
	q := &fakeDequeuer{}
	for i := 0; i < 7; i++ {
		q.items = append(q.items, queuedItem(fmt.Sprintf("m-%d", i), "claim "+strings.Repeat("x", i+1)))
	}

	cfg := testConfig()
	cfg.BatchSize = 3
	p := New(cfg, q, newFakeBackend(), &fakeDelivery{}, nil)

	p.ProcessBatch(context.Background())
	p.ProcessBatch(context.Background())

	if stats := p.Stats(); stats.MaxQueueDepth != 7 {
		t.Errorf("Expected max depth 7, got %d", stats.MaxQueueDepth)
	}
}
