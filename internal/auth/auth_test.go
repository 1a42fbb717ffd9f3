// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticate_APIKeyHeader(t *testing.T) {
	a := New(Config{APIKey: "k1"})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "k1")
	identity, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodAPIKey, identity.Method)
}

func TestAuthenticate_APIKeyBearer(t *testing.T) {
	a := New(Config{APIKey: "k1"})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer k1")
	identity, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodAPIKey, identity.Method)
}

func TestAuthenticate_WrongKey(t *testing.T) {
	a := New(Config{APIKey: "abc"})

	for _, key := range []string{"abd", "abc ", "ab", ""} {
		r := httptest.NewRequest("GET", "/", nil)
		if key != "" {
			r.Header.Set("X-API-Key", key)
		}
		_, err := a.Authenticate(r)
		assert.Error(t, err, "key %q", key)
	}
}

func TestAuthenticate_KeySet(t *testing.T) {
	a := New(Config{APIKeys: []string{"k1", "k2", "k3"}})

	for _, key := range []string{"k1", "k2", "k3"} {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-API-Key", key)
		_, err := a.Authenticate(r)
		assert.NoError(t, err, key)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "k4")
	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestAuthenticate_CustomValidator(t *testing.T) {
	a := New(Config{Validator: func(key string) bool { return key == "magic" }})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "magic")
	_, err := a.Authenticate(r)
	assert.NoError(t, err)
}

func TestAuthenticate_NoCredentials(t *testing.T) {
	a := New(Config{APIKey: "k1"})
	_, err := a.Authenticate(httptest.NewRequest("GET", "/", nil))
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestAuthenticate_Disabled(t *testing.T) {
	a := New(Config{})
	assert.False(t, a.Enabled())
	_, err := a.Authenticate(httptest.NewRequest("GET", "/", nil))
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestAuthenticate_JWT(t *testing.T) {
	a := New(Config{JWT: &JWTConfig{Secret: "secret"}})

	token := signToken(t, "secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	identity, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodJWT, identity.Method)
	assert.Equal(t, "user-1", identity.Subject)
}

// A token whose exp is one second in the past is rejected.
func TestAuthenticate_JWTExpired(t *testing.T) {
	a := New(Config{JWT: &JWTConfig{Secret: "secret"}})

	token := signToken(t, "secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Second).Unix(),
	})
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAuthenticate_JWTBadSignature(t *testing.T) {
	a := New(Config{JWT: &JWTConfig{Secret: "secret"}})

	token := signToken(t, "other-secret", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate_JWTIssuerAudience(t *testing.T) {
	a := New(Config{JWT: &JWTConfig{Secret: "secret", Issuer: "conductor", Audience: "api"}})

	good := signToken(t, "secret", jwt.MapClaims{
		"sub": "u", "exp": time.Now().Add(time.Hour).Unix(),
		"iss": "conductor", "aud": "api",
	})
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+good)
	_, err := a.Authenticate(r)
	assert.NoError(t, err)

	wrongIss := signToken(t, "secret", jwt.MapClaims{
		"sub": "u", "exp": time.Now().Add(time.Hour).Unix(),
		"iss": "impostor", "aud": "api",
	})
	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+wrongIss)
	_, err = a.Authenticate(r)
	assert.Error(t, err)
}

// With both an API key and JWT configured, each credential authenticates
// with its own method.
func TestAuthenticate_BothMethodsConfigured(t *testing.T) {
	a := New(Config{APIKey: "k1", JWT: &JWTConfig{Secret: "secret"}})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "k1")
	identity, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodAPIKey, identity.Method)

	token := signToken(t, "secret", jwt.MapClaims{
		"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix(),
	})
	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	identity, err = a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodJWT, identity.Method)
}

func TestAuthenticate_AuthorizeGate(t *testing.T) {
	a := New(Config{
		APIKey:    "k1",
		Authorize: func(id *Identity) bool { return false },
	})

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-API-Key", "k1")
	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}
