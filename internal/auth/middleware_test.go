// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gateHandler(g *Gate) http.Handler {
	return g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
}

func TestGate_Unauthenticated401(t *testing.T) {
	g := NewGate(New(Config{APIKey: "k1"}), nil, nil)
	h := gateHandler(g)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/rpc", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestGate_AuthenticatedPasses(t *testing.T) {
	g := NewGate(New(Config{APIKey: "k1"}), nil, nil)

	var identity *Identity
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/rpc", nil)
	req.Header.Set("X-API-Key", "k1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, identity)
	assert.Equal(t, MethodAPIKey, identity.Method)
}

func TestGate_Forbidden403(t *testing.T) {
	g := NewGate(New(Config{
		APIKey:    "k1",
		Authorize: func(*Identity) bool { return false },
	}), nil, nil)
	h := gateHandler(g)

	req := httptest.NewRequest("GET", "/api/v1/rpc", nil)
	req.Header.Set("X-API-Key", "k1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestGate_SkipPathsBypassBothChecks(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{Window: time.Minute, MaxRequests: 1})
	g := NewGate(New(Config{APIKey: "k1"}), limiter, []string{"/api/v1/healthz"})
	h := gateHandler(g)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

// Scenario: window of 60s, max 2 — the third authenticated request gets
// 429 with Retry-After no larger than the window.
func TestGate_RateLimit429(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{Window: time.Minute, MaxRequests: 2})
	g := NewGate(New(Config{APIKey: "k1"}), limiter, nil)
	h := gateHandler(g)

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/v1/rpc", nil)
		req.Header.Set("X-API-Key", "k1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, first.Header().Get("X-RateLimit-Reset"))

	second := do()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := do()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)

	retryAfter, err := strconv.Atoi(third.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 60)

	var body map[string]string
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["error"])
}

func TestGate_RateLimitKeying(t *testing.T) {
	limiter := NewLimiter(LimiterConfig{Window: time.Minute, MaxRequests: 1})
	g := NewGate(nil, limiter, nil)
	h := gateHandler(g)

	// Distinct forwarded IPs get distinct windows.
	req1 := httptest.NewRequest("GET", "/x", nil)
	req1.Header.Set("X-Forwarded-For", "10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req1)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req1)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	req2 := httptest.NewRequest("GET", "/x", nil)
	req2.Header.Set("X-Forwarded-For", "10.0.0.2")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req2)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGate_NoChecksConfigured(t *testing.T) {
	g := NewGate(New(Config{}), nil, nil)
	h := gateHandler(g)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
