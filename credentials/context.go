// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package credentials issues and verifies the bearer tokens handed to API
// clients and keeps the backend secrets (directory passwords, LIMS session
// tokens) that those bearer tokens stand for.
package credentials

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/empa-scientific-it/openbis-uploader/config"
)

// the claims carried by a bearer token
type Claims struct {
	jwt.RegisteredClaims
}

// returns the lifetime left to the token at the given time
func (c Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// returns true if the token names the given audience
func (c Claims) HasAudience(audience string) bool {
	return slices.Contains(c.Audience, audience)
}

// A Context signs and verifies bearer tokens with one key and algorithm.
type Context struct {
	key      []byte
	method   jwt.SigningMethod
	lifetime time.Duration
	// clock, replaceable in tests
	now func() time.Time
}

// creates a Context using the global auth configuration
func NewContextFromConfig() (*Context, error) {
	return NewContext(config.Auth.SecretKey, config.Auth.Algorithm,
		time.Duration(config.Auth.TokenLifetime)*time.Minute)
}

// creates a Context that signs tokens with the given HMAC secret and
// algorithm, each valid for the given lifetime
func NewContext(secret, algorithm string, lifetime time.Duration) (*Context, error) {
	if secret == "" {
		return nil, fmt.Errorf("A token signing secret is required")
	}
	method := jwt.GetSigningMethod(algorithm)
	if _, isHmac := method.(*jwt.SigningMethodHMAC); !isHmac {
		return nil, fmt.Errorf("Unsupported signing algorithm: %s", algorithm)
	}
	if lifetime <= 0 {
		return nil, fmt.Errorf("Invalid token lifetime: %s", lifetime)
	}
	return &Context{
		key:      []byte(secret),
		method:   method,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// returns the current time on the context's clock
func (c *Context) Now() time.Time {
	return c.now()
}

// signs a token for the given subject valid for every backend named in
// audience
func (c *Context) CreateAccessToken(subject string, audience []string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("A token needs a subject")
	}
	if len(audience) == 0 {
		return "", fmt.Errorf("A token needs at least one audience")
	}
	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
		},
	}
	return jwt.NewWithClaims(c.method, claims).SignedString(c.key)
}

// verifies the token's signature, expiry and membership of audience in its
// audience list, returning its claims or an UnauthorizedError
func (c *Context) DecodeAccessToken(token, audience string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(c.now),
	)
	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		reason := "invalid token"
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			reason = "token expired"
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			reason = fmt.Sprintf("token not valid for %s", audience)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			reason = "bad token signature"
		}
		return nil, &UnauthorizedError{Reason: reason, Err: errors.Join(ErrInvalidToken, err)}
	}
	if claims.Subject == "" {
		return nil, &UnauthorizedError{Reason: "token has no subject", Err: ErrInvalidToken}
	}
	return &claims, nil
}

// verifies the token's signature and expiry without checking its audience
func (c *Context) inspect(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	if err != nil {
		return nil, &UnauthorizedError{Reason: "invalid token", Err: errors.Join(ErrInvalidToken, err)}
	}
	return &claims, nil
}
