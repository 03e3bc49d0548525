// OpenNotes - Community Notes Automation for Discord
// Copyright 2026 OpenNotes AI
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/opennotes-ai/opennotes-sub003

package ops

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testServer(checks ...ReadinessCheck) *http.Server {
	return NewServer(Config{Host: "127.0.0.1", Port: 0, Timeout: 5 * time.Second}, checks...)
}

func TestServer_Healthz(t *testing.T) {
	srv := testServer()

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestServer_Readyz(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		srv := testServer(
			ReadinessCheck{Name: "redis", Check: func(context.Context) bool { return true }},
			ReadinessCheck{Name: "stream", Check: func(context.Context) bool { return true }},
		)

		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
	})

	t.Run("failing dependency reports unavailable", func(t *testing.T) {
		srv := testServer(
			ReadinessCheck{Name: "redis", Check: func(context.Context) bool { return true }},
			ReadinessCheck{Name: "stream", Check: func(context.Context) bool { return false }},
		)

		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", rec.Code)
		}
	})
}

func TestServer_Metrics(t *testing.T) {
	srv := testServer()

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}
