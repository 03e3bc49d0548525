// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package metrics provides Prometheus instrumentation for the worker
// pipeline: stream publishes and consumes, bounded-queue depth and
// overflow, batch throughput, lock contention, rate-limit rejections
// and auto-publish outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream metrics
	StreamPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_publishes_total",
			Help: "Total events published to the stream",
		},
		[]string{"subject"},
	)

	StreamPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_publish_errors_total",
			Help: "Total failed stream publishes",
		},
		[]string{"subject"},
	)

	StreamMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_consumed_total",
			Help: "Total stream messages consumed, by subject and outcome (ack, nak, malformed)",
		},
		[]string{"subject", "outcome"},
	)

	StreamRedeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_redeliveries_total",
			Help: "Messages observed with a delivery attempt greater than one",
		},
		[]string{"subject"},
	)

	// Bounded queue metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bounded_queue_depth",
			Help: "Current number of items in the bounded queue",
		},
		[]string{"queue"},
	)

	QueueOverflowTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounded_queue_overflow_total",
			Help: "Items evicted by the drop-oldest overflow policy",
		},
		[]string{"queue"},
	)

	QueueEnqueueErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounded_queue_enqueue_errors_total",
			Help: "Enqueue attempts that failed to reach the store",
		},
		[]string{"queue"},
	)

	// Batch processor metrics
	BatchesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_runs_total",
			Help: "Total batch processor ticks that processed at least one item",
		},
	)

	BatchTicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running",
		},
	)

	BatchItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_items_processed_total",
			Help: "Items processed per outcome (success, failure)",
		},
		[]string{"outcome"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_run_duration_seconds",
			Help:    "Duration of a batch processor tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Distributed lock metrics
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distributed_lock_acquisitions_total",
			Help: "Lock acquisition attempts by outcome (acquired, contended, error)",
		},
		[]string{"outcome"},
	)

	// Rate limiter metrics
	RateLimitChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_checks_total",
			Help: "Rate limiter checks by outcome (allowed, rejected, fail_open)",
		},
		[]string{"outcome"},
	)

	// Publish coordinator metrics
	AutoPublishOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auto_publish_outcomes_total",
			Help: "Score-update events by terminal outcome (published, ineligible, duplicate, lock_skipped, publish_failed)",
		},
		[]string{"outcome"},
	)
)

// Outcome label values shared across collectors.
const (
	OutcomeAck       = "ack"
	OutcomeNak       = "nak"
	OutcomeMalformed = "malformed"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"

	OutcomeAcquired  = "acquired"
	OutcomeContended = "contended"
	OutcomeError     = "error"

	OutcomeAllowed  = "allowed"
	OutcomeRejected = "rejected"
	OutcomeFailOpen = "fail_open"

	OutcomePublished     = "published"
	OutcomeIneligible    = "ineligible"
	OutcomeDuplicate     = "duplicate"
	OutcomeLockSkipped   = "lock_skipped"
	OutcomePublishFailed = "publish_failed"
)
