// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// The worker runs the OpenNotes event pipeline: it consumes note score
// updates from the shared stream, auto-publishes eligible notes, and
// drains the message queue through similarity matching on a timer.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/opennotes-ai/opennotes-sub003/internal/batch"
	"github.com/opennotes-ai/opennotes-sub003/internal/config"
	"github.com/opennotes-ai/opennotes-sub003/internal/coordinator"
	"github.com/opennotes-ai/opennotes-sub003/internal/lock"
	"github.com/opennotes-ai/opennotes-sub003/internal/logging"
	"github.com/opennotes-ai/opennotes-sub003/internal/notes"
	"github.com/opennotes-ai/opennotes-sub003/internal/ops"
	"github.com/opennotes-ai/opennotes-sub003/internal/queue"
	"github.com/opennotes-ai/opennotes-sub003/internal/ratelimit"
	"github.com/opennotes-ai/opennotes-sub003/internal/store"
	"github.com/opennotes-ai/opennotes-sub003/internal/stream"
	"github.com/opennotes-ai/opennotes-sub003/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("worker failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("opennotes worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared store.
	redisClient, err := store.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	// Stream transport: embedded server for single-instance deployments,
	// external URL otherwise.
	streamURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		srvCfg := stream.DefaultServerConfig()
		srvCfg.StoreDir = cfg.NATS.StoreDir
		srvCfg.JetStreamMaxMem = cfg.NATS.MaxMemory
		srvCfg.JetStreamMaxStore = cfg.NATS.MaxStore

		embedded, err := stream.NewEmbeddedServer(srvCfg)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = embedded.Shutdown(shutdownCtx)
		}()
		streamURL = embedded.ClientURL()
	}

	streamClient, err := stream.NewClient(stream.DefaultClientConfig(streamURL))
	if err != nil {
		return err
	}
	defer streamClient.Close()

	manager, err := stream.NewManager(streamClient.Conn(), stream.DefaultStreamConfig())
	if err != nil {
		return err
	}
	if _, err := manager.EnsureStream(ctx); err != nil {
		return err
	}

	wmLogger := logging.NewWatermillAdapter()

	publisher, err := stream.NewPublisher(stream.DefaultPublisherConfig(streamURL), wmLogger)
	if err != nil {
		return err
	}
	defer func() { _ = publisher.Close() }()
	publisher.SetCircuitBreaker(stream.NewCircuitBreaker(stream.DefaultCircuitBreakerConfig("stream-publisher")))

	subCfg := stream.DefaultSubscriberConfig(streamURL)
	subCfg.DurableName = cfg.NATS.DurableName
	subCfg.QueueGroup = cfg.NATS.QueueGroup
	subCfg.SubscribersCount = cfg.NATS.SubscribersCount
	subCfg.MaxDeliver = cfg.NATS.MaxDeliver
	if cfg.NATS.AckWait > 0 {
		subCfg.AckWaitTimeout = cfg.NATS.AckWait
	}
	subscriber, err := stream.NewSubscriber(subCfg, wmLogger)
	if err != nil {
		return err
	}
	defer func() { _ = subscriber.Close() }()

	// Pipeline components. The note backend, delivery capability and
	// guild settings are owned by sibling services; this binary wires
	// the documented no-op implementations until those are attached.
	var (
		backend  notes.Backend  = notes.NoopBackend{}
		delivery notes.Delivery = notes.NoopDelivery{}
		settings settingsSource = settingsSource{}
	)

	messageQueue := queue.New(redisClient, cfg.Redis.KeyPrefix, cfg.Queue)
	locks := lock.NewManager(redisClient)
	requestLimiter := ratelimit.New(redisClient, cfg.Redis.KeyPrefix, cfg.RateLimit)

	processor := batch.New(cfg.Batch, messageQueue, backend, delivery, requestLimiter)
	coord := coordinator.New(cfg.Publish, redisClient, cfg.Redis.KeyPrefix, locks,
		backend, delivery, settings, publisher)

	opsServer := ops.NewServer(ops.Config{
		Host:    cfg.Ops.Host,
		Port:    cfg.Ops.Port,
		Timeout: cfg.Ops.Timeout,
	},
		ops.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) bool {
			return store.Healthy(ctx, redisClient)
		}},
		ops.ReadinessCheck{Name: "stream", Check: func(context.Context) bool {
			return streamClient.IsConnected()
		}},
	)

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return err
	}
	tree.AddMessagingService(coordinator.NewRunner(subscriber, coord))
	tree.AddProcessingService(processor)
	tree.AddOpsService(supervisor.NewHTTPService(opsServer, 10*time.Second))

	logging.Info().
		Str("stream_url", streamURL).
		Str("redis_addr", cfg.Redis.Addr).
		Int("ops_port", cfg.Ops.Port).
		Msg("worker running")

	err = tree.Serve(ctx)
	if err != nil && ctx.Err() != nil {
		err = nil // clean signal-driven shutdown
	}
	logging.Info().Msg("worker stopped")
	return err
}

// settingsSource is the stand-in guild settings lookup: auto-publish
// stays off until the real configuration service is wired, so the
// coordinator discards every event at the gate instead of posting.
type settingsSource struct{}

func (settingsSource) AutoPublishSettings(context.Context, string, string) (coordinator.AutoPublishSettings, error) {
	return coordinator.AutoPublishSettings{}, nil
}
