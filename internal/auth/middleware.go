// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const identityKey contextKey = "auth.identity"

// IdentityFrom returns the authenticated identity stored on the request
// context, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok
}

// Gate is the edge middleware: authentication then rate limiting.
type Gate struct {
	auth      *Authenticator
	limiter   *Limiter
	skipPaths map[string]bool
}

// NewGate creates the edge gate. Either check may be nil to disable it.
// skipPaths bypass both checks (health endpoints and similar).
func NewGate(a *Authenticator, l *Limiter, skipPaths []string) *Gate {
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &Gate{auth: a, limiter: l, skipPaths: skip}
}

// Middleware wraps next with the authentication and rate-limit checks.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		var identity *Identity
		if g.auth != nil && g.auth.Enabled() {
			var err error
			identity, err = g.auth.Authenticate(r)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), identityKey, identity))
		}

		if g.limiter != nil {
			result := g.limiter.Allow(clientKey(r, identity))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.Reset.Unix(), 10))
			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds() + 0.5)
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey picks the rate-limit key: user id when authenticated, else
// the forwarded client IP, else "default".
func clientKey(r *http.Request, identity *Identity) string {
	if identity != nil && identity.Subject != "" {
		return "user:" + identity.Subject
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return "ip:" + strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return "ip:" + host
	}
	return "default"
}

// writeAuthError maps an authentication error to its status code:
// 401 for failed authentication (with a WWW-Authenticate hint),
// 403 for failed authorization.
func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotAuthorized) {
		writeError(w, http.StatusForbidden, "forbidden", "not authorized")
		return
	}
	w.Header().Set("WWW-Authenticate", "Bearer")
	message := "authentication required"
	switch {
	case errors.Is(err, ErrTokenExpired):
		message = "token expired"
	case errors.Is(err, ErrInvalidToken):
		message = "invalid token"
	case errors.Is(err, ErrInvalidKey):
		message = "invalid api key"
	}
	writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
