// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

package stream

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/opennotes-ai/opennotes-sub003/internal/events"
	"github.com/opennotes-ai/opennotes-sub003/internal/metrics"
)

// Subscriber wraps a Watermill subscriber with durable JetStream
// consumption. Instances sharing the durable name and queue group split
// the subject load between them; each message is delivered to exactly
// one member at a time.
type Subscriber struct {
	subscriber message.Subscriber
	config     SubscriberConfig
	logger     watermill.LoggerAdapter
}

// NewSubscriber creates a durable queue-group subscriber.
func NewSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("Subscriber disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("Subscriber reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.DeliverNew(),
	}

	// Bind to the pre-created stream. Auto-provisioning from the subject
	// would fail on wildcard subjects, and the worker provisions the
	// stream itself at startup anyway.
	autoProvision := true
	if cfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
		autoProvision = false
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    autoProvision,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &Subscriber{
		subscriber: sub,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Subscribe returns a channel of messages for the given subject. The
// channel is closed when the context is canceled or the subscriber is
// closed.
func (s *Subscriber) Subscribe(ctx context.Context, subject string) (<-chan *message.Message, error) {
	return s.subscriber.Subscribe(ctx, subject)
}

// Close gracefully shuts down the subscriber.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}

// MessageHandler processes raw messages from one subject with ack/nak
// bookkeeping.
type MessageHandler struct {
	subscriber *Subscriber
	subject    string
	handler    func(ctx context.Context, msg *message.Message) error
	logger     watermill.LoggerAdapter
}

// NewMessageHandler creates a handler for the given subject.
func (s *Subscriber) NewMessageHandler(subject string) *MessageHandler {
	return &MessageHandler{
		subscriber: s,
		subject:    subject,
		logger:     s.logger,
	}
}

// Handle sets the processing function. A returned error naks the
// message so the server redelivers it, up to MaxDeliver attempts.
func (h *MessageHandler) Handle(fn func(ctx context.Context, msg *message.Message) error) *MessageHandler {
	h.handler = fn
	return h
}

// Run consumes messages until context cancellation. Successful handling
// acks, a handler error naks. Processing errors are logged and never
// abort the loop.
func (h *MessageHandler) Run(ctx context.Context) error {
	messages, err := h.subscriber.Subscribe(ctx, h.subject)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", h.subject, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := h.processMessage(ctx, msg); err != nil {
				h.logger.Error("Message processing failed", err, watermill.LogFields{
					"message_uuid": msg.UUID,
					"subject":      h.subject,
				})
			}
		}
	}
}

func (h *MessageHandler) processMessage(ctx context.Context, msg *message.Message) error {
	if h.handler == nil {
		msg.Ack()
		return nil
	}

	if err := h.handler(ctx, msg); err != nil {
		msg.Nack()
		metrics.StreamMessagesConsumed.WithLabelValues(h.subject, metrics.OutcomeNak).Inc()
		return err
	}

	msg.Ack()
	metrics.StreamMessagesConsumed.WithLabelValues(h.subject, metrics.OutcomeAck).Inc()
	return nil
}

// ScoreUpdateHandler consumes ScoreUpdateEvent messages.
type ScoreUpdateHandler struct {
	handler    *MessageHandler
	serializer *events.Serializer
}

// NewScoreUpdateHandler creates a typed handler for score updates.
func (s *Subscriber) NewScoreUpdateHandler(subject string) *ScoreUpdateHandler {
	return &ScoreUpdateHandler{
		handler:    s.NewMessageHandler(subject),
		serializer: events.NewSerializer(),
	}
}

// Handle sets the event processing function. A payload that fails to
// decode is naked without invoking fn; the server retries until the
// delivery cap routes it to terminal handling.
func (h *ScoreUpdateHandler) Handle(fn func(ctx context.Context, event *events.ScoreUpdateEvent) error) *ScoreUpdateHandler {
	h.handler.Handle(func(ctx context.Context, msg *message.Message) error {
		event, err := h.serializer.UnmarshalScoreUpdate(msg.Payload)
		if err != nil {
			metrics.StreamMessagesConsumed.WithLabelValues(h.handler.subject, metrics.OutcomeMalformed).Inc()
			return fmt.Errorf("unmarshal score update: %w", err)
		}
		return fn(ctx, event)
	})
	return h
}

// Run starts processing events until context cancellation.
func (h *ScoreUpdateHandler) Run(ctx context.Context) error {
	return h.handler.Run(ctx)
}

// ScanBatchHandler consumes ScanMessageBatch messages.
type ScanBatchHandler struct {
	handler    *MessageHandler
	serializer *events.Serializer
}

// NewScanBatchHandler creates a typed handler for bulk scan batches.
func (s *Subscriber) NewScanBatchHandler(subject string) *ScanBatchHandler {
	return &ScanBatchHandler{
		handler:    s.NewMessageHandler(subject),
		serializer: events.NewSerializer(),
	}
}

// Handle sets the batch processing function. Decode failures nak
// without invoking fn.
func (h *ScanBatchHandler) Handle(fn func(ctx context.Context, batch *events.ScanMessageBatch) error) *ScanBatchHandler {
	h.handler.Handle(func(ctx context.Context, msg *message.Message) error {
		batch, err := h.serializer.UnmarshalScanBatch(msg.Payload)
		if err != nil {
			metrics.StreamMessagesConsumed.WithLabelValues(h.handler.subject, metrics.OutcomeMalformed).Inc()
			return fmt.Errorf("unmarshal scan batch: %w", err)
		}
		return fn(ctx, batch)
	})
	return h
}

// Run starts processing batches until context cancellation.
func (h *ScanBatchHandler) Run(ctx context.Context) error {
	return h.handler.Run(ctx)
}
