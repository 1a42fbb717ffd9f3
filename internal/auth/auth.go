// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth guards the RPC edge: API-key and JWT authentication plus a
// sliding-window rate limit.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Authentication errors.
var (
	ErrNoCredentials = errors.New("no credentials supplied")
	ErrInvalidKey    = errors.New("invalid api key")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrNotAuthorized = errors.New("not authorized")
	ErrAuthDisabled  = errors.New("authentication not configured")
)

// Authentication methods reported on an Identity.
const (
	MethodAPIKey = "api-key"
	MethodJWT    = "jwt"
)

// Identity is the outcome of a successful authentication.
type Identity struct {
	Method  string                 `json:"method"`
	Subject string                 `json:"subject,omitempty"`
	Claims  map[string]interface{} `json:"claims,omitempty"`
}

// KeyValidator lets the caller supply their own key check. It must be
// constant-time for untrusted input.
type KeyValidator func(key string) bool

// Config configures the authenticator. Any one credential source is
// enough: single key, key set, custom validator, or JWT.
type Config struct {
	APIKey    string
	APIKeys   []string
	Validator KeyValidator
	JWT       *JWTConfig
	// Authorize optionally gates authenticated identities; a false return
	// is a 403, not a 401.
	Authorize func(*Identity) bool
}

// Authenticator validates request credentials.
type Authenticator struct {
	cfg Config
	jwt *jwtValidator
}

// New creates an Authenticator.
func New(cfg Config) *Authenticator {
	a := &Authenticator{cfg: cfg}
	if cfg.JWT != nil {
		a.jwt = newJWTValidator(*cfg.JWT)
	}
	return a
}

// Enabled reports whether any credential source is configured.
func (a *Authenticator) Enabled() bool {
	return a.cfg.APIKey != "" || len(a.cfg.APIKeys) > 0 ||
		a.cfg.Validator != nil || a.jwt != nil
}

// Authenticate checks the request's credentials: an API key in
// "Authorization: Bearer" or "X-API-Key", or a JWT (three dot-separated
// parts) in "Authorization: Bearer".
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	if !a.Enabled() {
		return nil, ErrAuthDisabled
	}

	bearer := bearerToken(r)
	apiKey := r.Header.Get("X-API-Key")

	// A three-part bearer token is a JWT when JWT is configured.
	if bearer != "" && a.jwt != nil && strings.Count(bearer, ".") == 2 {
		identity, err := a.jwt.Validate(bearer)
		if err == nil {
			return a.authorize(identity)
		}
		// Fall through: the token may still be an API key that happens to
		// contain dots.
		if !a.keyConfigured() {
			return nil, err
		}
		if a.checkKey(bearer) {
			return a.authorize(&Identity{Method: MethodAPIKey})
		}
		return nil, err
	}

	if a.keyConfigured() {
		if apiKey != "" && a.checkKey(apiKey) {
			return a.authorize(&Identity{Method: MethodAPIKey})
		}
		if bearer != "" && a.checkKey(bearer) {
			return a.authorize(&Identity{Method: MethodAPIKey})
		}
	}

	if bearer == "" && apiKey == "" {
		return nil, ErrNoCredentials
	}
	return nil, ErrInvalidKey
}

func (a *Authenticator) authorize(identity *Identity) (*Identity, error) {
	if a.cfg.Authorize != nil && !a.cfg.Authorize(identity) {
		return nil, ErrNotAuthorized
	}
	return identity, nil
}

func (a *Authenticator) keyConfigured() bool {
	return a.cfg.APIKey != "" || len(a.cfg.APIKeys) > 0 || a.cfg.Validator != nil
}

// checkKey compares the supplied key against the configured source in
// constant time: both sides are sha256-digested first so length
// differences leak nothing.
func (a *Authenticator) checkKey(key string) bool {
	if a.cfg.Validator != nil {
		return a.cfg.Validator(key)
	}
	supplied := sha256.Sum256([]byte(key))
	if a.cfg.APIKey != "" {
		expected := sha256.Sum256([]byte(a.cfg.APIKey))
		return subtle.ConstantTimeCompare(supplied[:], expected[:]) == 1
	}
	// Check every configured key; no early exit on match so timing does
	// not reveal which entry matched.
	matched := 0
	for _, candidate := range a.cfg.APIKeys {
		expected := sha256.Sum256([]byte(candidate))
		matched |= subtle.ConstantTimeCompare(supplied[:], expected[:])
	}
	return matched == 1
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
