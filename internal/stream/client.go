// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package stream provides the durable event-stream transport of the
// worker: the NATS connection, JetStream stream lifecycle, the durable
// queue-group subscriber and the enveloped publisher.
package stream

import (
	"fmt"
	"sync"

	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/opennotes-ai/opennotes-sub003/internal/logging"
)

// Client owns the raw NATS connection used for stream management and
// connection-status reporting. The Watermill subscriber and publisher
// hold their own connections configured the same way; this one exists so
// the worker can provision streams and answer health checks.
type Client struct {
	conn   *natsgo.Conn
	cfg    ClientConfig
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient connects to the stream server with reconnection handling.
// RetryOnFailedConnect means construction succeeds even when the server
// is briefly down; IsConnected reports the live state.
func NewClient(cfg ClientConfig) (*Client, error) {
	logger := logging.With().Str("component", "stream").Logger()

	opts := []natsgo.Option{
		natsgo.Name(cfg.Name),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("stream disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("stream reconnected")
		}),
	}

	conn, err := natsgo.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to stream at %s: %w", cfg.URL, err)
	}

	return &Client{conn: conn, cfg: cfg, logger: logger}, nil
}

// Conn exposes the underlying connection for the stream manager.
func (c *Client) Conn() *natsgo.Conn { return c.conn }

// IsConnected reports live connection state.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close shuts the connection down. It is idempotent and a no-op when
// the client never connected.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil {
		return
	}
	c.closed = true
	c.conn.Close()
}
