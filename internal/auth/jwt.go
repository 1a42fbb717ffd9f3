// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures JWT validation. Issuer and Audience are optional;
// when set they must match.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

type jwtValidator struct {
	secret   []byte
	issuer   string
	audience string
}

func newJWTValidator(cfg JWTConfig) *jwtValidator {
	return &jwtValidator{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
}

// Validate parses and verifies a JWT: HMAC signature, expiration, and the
// optional issuer/audience constraints. Returns the claims and subject.
func (v *jwtValidator) Validate(token string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, ErrAuthDisabled
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, _ := claims.GetSubject()
	return &Identity{
		Method:  MethodJWT,
		Subject: subject,
		Claims:  map[string]interface{}(claims),
	}, nil
}
