// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

// Package ops exposes the worker's operational HTTP surface: liveness,
// readiness and Prometheus metrics.
package ops

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports one dependency's readiness by name.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) bool
}

// Config holds ops server settings.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// NewServer builds the ops HTTP server. Liveness is unconditional;
// readiness runs every registered dependency check.
func NewServer(cfg Config, checks ...ReadinessCheck) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		results := make(map[string]bool, len(checks))
		for _, c := range checks {
			ok := c.Check(req.Context())
			results[c.Name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, results)
	})

	r.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
