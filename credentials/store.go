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

package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fernet/fernet-go"

	"github.com/empa-scientific-it/openbis-uploader/broker"
	"github.com/empa-scientific-it/openbis-uploader/config"
)

// the secret material a bearer token stands for at one backend
type Credentials struct {
	// the user the secret belongs to
	Subject string `json:"subject"`
	// backend-specific secret (directory password, LIMS session token)
	Secret string `json:"secret"`
	// the backend the secret is scoped to
	Audience string `json:"audience"`
}

// the storage used by a Store (satisfied by *broker.Broker)
type KeyValue interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// determines what logging out of one backend does to a bearer token
type InvalidationPolicy int

const (
	// logging out of any backend invalidates the token for all of them
	GlobalInvalidation InvalidationPolicy = iota
	// logging out of a backend only forgets that backend's secret
	AudienceInvalidation
)

// converts a configured policy name into an InvalidationPolicy
func ParseInvalidationPolicy(name string) (InvalidationPolicy, error) {
	switch name {
	case "", "global":
		return GlobalInvalidation, nil
	case "audience":
		return AudienceInvalidation, nil
	}
	return GlobalInvalidation, fmt.Errorf("Unknown invalidation policy: %s", name)
}

func (p InvalidationPolicy) String() string {
	if p == AudienceInvalidation {
		return "audience"
	}
	return "global"
}

// A Store maps bearer tokens to the backend secrets they stand for. Secrets
// are kept under {token}:{audience}, encrypted, for as long as the token
// lives; {token}:invalidated marks a token that was logged out.
type Store struct {
	context *Context
	kv      KeyValue
	key     *fernet.Key
	policy  InvalidationPolicy
}

// creates a Store using the global auth configuration
func NewStoreFromConfig(c *Context, kv KeyValue) (*Store, error) {
	policy, err := ParseInvalidationPolicy(config.Auth.Invalidation)
	if err != nil {
		return nil, err
	}
	return NewStore(c, kv, config.Auth.EncryptionKey, policy)
}

// creates a Store that encrypts secrets with the given Fernet key
func NewStore(c *Context, kv KeyValue, encryptionKey string, policy InvalidationPolicy) (*Store, error) {
	key, err := fernet.DecodeKey(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("Invalid credential encryption key: %s", err.Error())
	}
	return &Store{
		context: c,
		kv:      kv,
		key:     key,
		policy:  policy,
	}, nil
}

// returns the store's invalidation policy
func (s *Store) Policy() InvalidationPolicy {
	return s.policy
}

func scopedKey(token, audience string) string {
	return token + ":" + audience
}

func invalidatedKey(token string) string {
	return token + ":invalidated"
}

// persists the given credentials for every audience the token decodes
// under, returning the audiences actually stored
func (s *Store) Store(ctx context.Context, token string, audiences []string,
	credentials Credentials) ([]string, error) {
	stored := make([]string, 0, len(audiences))
	for _, audience := range audiences {
		claims, err := s.context.DecodeAccessToken(token, audience)
		if err != nil {
			slog.Debug(fmt.Sprintf("Not storing credentials for %s: %s", audience, err.Error()))
			continue
		}
		ttl := claims.Remaining(s.context.Now())
		if ttl <= 0 {
			continue
		}
		scoped := credentials
		scoped.Audience = audience
		plaintext, err := json.Marshal(scoped)
		if err != nil {
			return stored, err
		}
		ciphertext, err := fernet.EncryptAndSign(plaintext, s.key)
		if err != nil {
			return stored, err
		}
		err = s.kv.Set(ctx, scopedKey(token, audience), string(ciphertext), ttl)
		if err != nil {
			return stored, err
		}
		stored = append(stored, audience)
	}
	return stored, nil
}

// returns the credentials stored for the token and audience, or a
// NotFoundError if there are none or the token was invalidated
func (s *Store) Retrieve(ctx context.Context, token, audience string) (Credentials, error) {
	var credentials Credentials
	invalidated, err := s.IsInvalidated(ctx, token)
	if err != nil {
		return credentials, err
	}
	if invalidated {
		return credentials, &NotFoundError{Audience: audience, Reason: "token invalidated"}
	}
	ciphertext, err := s.kv.Get(ctx, scopedKey(token, audience))
	if err != nil {
		var missing *broker.KeyNotFoundError
		if errors.As(err, &missing) {
			return credentials, &NotFoundError{Audience: audience, Reason: "no credentials stored"}
		}
		return credentials, err
	}
	plaintext := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{s.key})
	if plaintext == nil {
		return credentials, &NotFoundError{Audience: audience, Reason: "stored credentials unreadable"}
	}
	err = json.Unmarshal(plaintext, &credentials)
	return credentials, err
}

// forgets the credentials stored for the token and audience; under the
// global policy the token is invalidated for every audience
func (s *Store) Remove(ctx context.Context, token, audience string) error {
	if s.policy == GlobalInvalidation {
		return s.Invalidate(ctx, token)
	}
	return s.kv.Delete(ctx, scopedKey(token, audience))
}

// marks the token invalidated and forgets every secret stored for it
func (s *Store) Invalidate(ctx context.Context, token string) error {
	ttl := s.context.lifetime
	keys := make([]string, 0)
	if claims, err := s.context.inspect(token); err == nil {
		ttl = claims.Remaining(s.context.Now())
		for _, audience := range claims.Audience {
			keys = append(keys, scopedKey(token, audience))
		}
	}
	if ttl <= 0 {
		// the token is dead anyway
		return s.kv.Delete(ctx, keys...)
	}
	if err := s.kv.Set(ctx, invalidatedKey(token), "1", ttl); err != nil {
		return err
	}
	return s.kv.Delete(ctx, keys...)
}

// returns true if the token has been invalidated
func (s *Store) IsInvalidated(ctx context.Context, token string) (bool, error) {
	return s.kv.Exists(ctx, invalidatedKey(token))
}
