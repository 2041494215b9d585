// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedHandler(t *testing.T, cfg RateLimitConfig) http.Handler {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return rateLimitMiddleware(cfg, done)(next)
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	h := limitedHandler(t, RateLimitConfig{})

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimitEnforcesBurst(t *testing.T) {
	h := limitedHandler(t, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 3})

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{200, 200, 200, 429, 429}, codes)
}

func TestRateLimitIsPerIP(t *testing.T) {
	h := limitedHandler(t, RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})

	for _, addr := range []string{"10.0.0.1:50000", "10.0.0.2:50000", "10.0.0.3:50000"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, addr)
	}
}
