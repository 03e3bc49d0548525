// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package batch drains the bounded message queue on a fixed interval
// and runs similarity matching per item: republish a cached note, file
// a follow-up request, or do nothing.
package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/opennotes-ai/opennotes-sub003/internal/events"
	"github.com/opennotes-ai/opennotes-sub003/internal/logging"
	"github.com/opennotes-ai/opennotes-sub003/internal/metrics"
	"github.com/opennotes-ai/opennotes-sub003/internal/notes"
	"github.com/opennotes-ai/opennotes-sub003/internal/ratelimit"
)

// Dequeuer is the queue side the processor drains. *queue.Queue
// satisfies it.
type Dequeuer interface {
	DequeueBatch(ctx context.Context, n int) ([]*events.QueuedMessage, error)
	Size(ctx context.Context) (int64, error)
}

// RequestLimiter caps note-request creation per channel across all
// worker replicas. *ratelimit.Limiter satisfies it.
type RequestLimiter interface {
	Check(ctx context.Context, id string) ratelimit.Result
}

// Config holds batch processor settings.
type Config struct {
	// Interval between ticks.
	Interval time.Duration `koanf:"interval"`

	// BatchSize is the maximum items dequeued per tick.
	BatchSize int `koanf:"batch_size" validate:"gt=0"`

	// MaxConcurrent bounds concurrent item processing within a tick.
	MaxConcurrent int `koanf:"max_concurrent" validate:"gt=0"`

	// AutoPublishThreshold: a previously-seen hit at or above it
	// republishes the cached note directly.
	AutoPublishThreshold float64 `koanf:"auto_publish_threshold" validate:"gte=0,lte=1"`

	// AutoRequestThreshold: a hit at or above it (but below the
	// auto-publish threshold) files a note request referencing the
	// prior match. It also serves as the fresh-search cutoff.
	AutoRequestThreshold float64 `koanf:"auto_request_threshold" validate:"gte=0,lte=1"`

	// SimilarityLimit caps matches returned by a fresh search.
	SimilarityLimit int `koanf:"similarity_limit" validate:"gt=0"`

	// SearchesPerSecond throttles fresh similarity searches.
	SearchesPerSecond float64 `koanf:"searches_per_second" validate:"gt=0"`
	SearchBurst       int     `koanf:"search_burst" validate:"gt=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:             time.Second,
		BatchSize:            10,
		MaxConcurrent:        3,
		AutoPublishThreshold: 0.90,
		AutoRequestThreshold: 0.70,
		SimilarityLimit:      5,
		SearchesPerSecond:    5,
		SearchBurst:          5,
	}
}

// Stats is a snapshot of cumulative processor throughput.
type Stats struct {
	Batches        uint64
	ItemsSucceeded uint64
	ItemsFailed    uint64
	MaxQueueDepth  int64
}

// Processor drains the queue on a timer. One tick at a time: a tick
// that fires while the previous one is still running is skipped whole.
type Processor struct {
	cfg      Config
	queue    Dequeuer
	backend  notes.Backend
	delivery notes.Delivery
	requests RequestLimiter

	searchLimiter *rate.Limiter
	busy          atomic.Bool
	logger        zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a processor. Collaborators without a real implementation
// take the notes no-op types. A nil requests limiter means unlimited.
func New(cfg Config, q Dequeuer, backend notes.Backend, delivery notes.Delivery, requests RequestLimiter) *Processor {
	return &Processor{
		cfg:           cfg,
		queue:         q,
		backend:       backend,
		delivery:      delivery,
		requests:      requests,
		searchLimiter: rate.NewLimiter(rate.Limit(cfg.SearchesPerSecond), cfg.SearchBurst),
		logger:        logging.With().Str("component", "batch").Logger(),
	}
}

// Serve runs the tick loop until context cancellation. Cancellation
// stops scheduling new ticks; a tick already in flight finishes its
// items. Implements suture.Service.
func (p *Processor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info().
		Dur("interval", p.cfg.Interval).
		Int("batch_size", p.cfg.BatchSize).
		Msg("batch processor started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.ProcessBatch(context.WithoutCancel(ctx))
		}
	}
}

// ProcessBatch runs one tick. Returns false when skipped because the
// previous tick is still running.
func (p *Processor) ProcessBatch(ctx context.Context) bool {
	if !p.busy.CompareAndSwap(false, true) {
		metrics.BatchTicksSkipped.Inc()
		return false
	}
	defer p.busy.Store(false)

	p.runTick(ctx)
	return true
}

func (p *Processor) runTick(ctx context.Context) {
	if depth, err := p.queue.Size(ctx); err == nil {
		p.recordDepth(depth)
	}

	items, err := p.queue.DequeueBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error().Err(err).Msg("dequeue failed, tick abandoned")
		return
	}
	if len(items) == 0 {
		return
	}

	start := time.Now()
	var succeeded, failed atomic.Uint64

	// Chunked fan-out: at most MaxConcurrent items in flight, and the
	// whole chunk settles before the next one starts. A failed item
	// never cancels its siblings.
	for i := 0; i < len(items); i += p.cfg.MaxConcurrent {
		end := min(i+p.cfg.MaxConcurrent, len(items))

		var wg sync.WaitGroup
		for _, item := range items[i:end] {
			wg.Add(1)
			go func(item *events.QueuedMessage) {
				defer wg.Done()
				if err := p.processItem(ctx, item); err != nil {
					failed.Add(1)
					p.logger.Warn().Err(err).
						Str("message_id", item.MessageID).
						Str("channel_id", item.ChannelID).
						Msg("item processing failed")
					return
				}
				succeeded.Add(1)
			}(item)
		}
		wg.Wait()
	}

	elapsed := time.Since(start)
	ok, bad := succeeded.Load(), failed.Load()

	p.mu.Lock()
	p.stats.Batches++
	p.stats.ItemsSucceeded += ok
	p.stats.ItemsFailed += bad
	p.mu.Unlock()

	metrics.BatchesProcessed.Inc()
	metrics.BatchItemsProcessed.WithLabelValues(metrics.OutcomeSuccess).Add(float64(ok))
	metrics.BatchItemsProcessed.WithLabelValues(metrics.OutcomeFailure).Add(float64(bad))
	metrics.BatchDuration.Observe(elapsed.Seconds())

	p.logger.Debug().
		Int("batch", len(items)).
		Uint64("succeeded", ok).
		Uint64("failed", bad).
		Dur("elapsed", elapsed).
		Msg("batch processed")
}

// processItem runs the matching ladder for one queued message.
func (p *Processor) processItem(ctx context.Context, item *events.QueuedMessage) error {
	seen, err := p.backend.CheckPreviouslySeen(ctx, item.Content, item.GuildID, item.ChannelID)
	if err != nil {
		return fmt.Errorf("check previously seen: %w", err)
	}

	if seen != nil && seen.Found {
		switch {
		case seen.Similarity >= p.cfg.AutoPublishThreshold:
			return p.republish(ctx, item, seen)
		case seen.Similarity >= p.cfg.AutoRequestThreshold:
			return p.requestNote(ctx, item, seen.NoteID, seen.Similarity)
		}
	}

	if err := p.searchLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("search throttle: %w", err)
	}

	matches, err := p.backend.SimilaritySearch(ctx, item.Content, item.GuildID,
		item.ChannelConfig.Datasets, p.cfg.AutoRequestThreshold, p.cfg.SimilarityLimit)
	if err != nil {
		return fmt.Errorf("similarity search: %w", err)
	}
	if len(matches) == 0 {
		return nil
	}

	best := matches[0]
	return p.requestNote(ctx, item, best.NoteID, best.Similarity)
}

func (p *Processor) republish(ctx context.Context, item *events.QueuedMessage, seen *notes.PreviouslySeen) error {
	note, err := p.backend.GetNote(ctx, seen.NoteID)
	if err != nil {
		return fmt.Errorf("get cached note %s: %w", seen.NoteID, err)
	}

	if _, err := p.delivery.SendMessage(ctx, item.ChannelID, note.Content); err != nil {
		return fmt.Errorf("republish note %s: %w", seen.NoteID, err)
	}

	p.logger.Info().
		Str("note_id", seen.NoteID).
		Str("channel_id", item.ChannelID).
		Float64("similarity", seen.Similarity).
		Msg("cached note republished")
	return nil
}

func (p *Processor) requestNote(ctx context.Context, item *events.QueuedMessage, matchedNoteID string, similarity float64) error {
	// Per-channel quota shared across replicas. Hitting the cap drops the
	// request silently: the message was already consumed from the queue and
	// a note request is best effort.
	if p.requests != nil {
		if res := p.requests.Check(ctx, item.ChannelID); !res.Allowed {
			p.logger.Info().
				Str("channel_id", item.ChannelID).
				Time("reset_at", res.ResetAt).
				Msg("note request rate limited")
			return nil
		}
	}

	requestID, err := p.backend.CreateNoteRequest(ctx, notes.NoteRequestDetails{
		GuildID:       item.GuildID,
		ChannelID:     item.ChannelID,
		MessageID:     item.MessageID,
		AuthorID:      item.AuthorID,
		Content:       item.Content,
		MatchedNoteID: matchedNoteID,
		Similarity:    similarity,
	})
	if err != nil {
		return fmt.Errorf("create note request: %w", err)
	}

	p.logger.Info().
		Str("request_id", requestID).
		Str("matched_note_id", matchedNoteID).
		Float64("similarity", similarity).
		Msg("note request created")
	return nil
}

// Stats returns a snapshot of cumulative throughput.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Processor) recordDepth(depth int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if depth > p.stats.MaxQueueDepth {
		p.stats.MaxQueueDepth = depth
	}
}
