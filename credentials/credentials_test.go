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
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"

	"github.com/empa-scientific-it/openbis-uploader/broker"
	"github.com/empa-scientific-it/openbis-uploader/uploadertest"
)

func TestMain(m *testing.M) {
	uploadertest.EnableDebugLogging()
	os.Exit(m.Run())
}

func newTestContext(t *testing.T) *Context {
	c, err := NewContext("72f0337b7a0ba5efc612af93bd75e5ff", "HS256", 30*time.Minute)
	if err != nil {
		t.Fatalf("Couldn't create credentials context: %s", err)
	}
	return c
}

func newTestStore(t *testing.T, c *Context, policy InvalidationPolicy) (*Store, *miniredis.Miniredis) {
	server := miniredis.RunT(t)
	b, err := broker.New(server.Addr(), "", 0)
	if err != nil {
		t.Fatalf("Couldn't connect to test Redis: %s", err)
	}
	t.Cleanup(func() { b.Close() })
	var key fernet.Key
	if err := key.Generate(); err != nil {
		t.Fatalf("Couldn't generate encryption key: %s", err)
	}
	s, err := NewStore(c, b, key.Encode(), policy)
	if err != nil {
		t.Fatalf("Couldn't create credentials store: %s", err)
	}
	return s, server
}

func TestNewContextRejectsBadParameters(t *testing.T) {
	assert := assert.New(t)
	_, err := NewContext("", "HS256", time.Minute)
	assert.NotNil(err)
	_, err = NewContext("secret", "RS256", time.Minute)
	assert.NotNil(err)
	_, err = NewContext("secret", "none", time.Minute)
	assert.NotNil(err)
	_, err = NewContext("secret", "HS512", 0)
	assert.NotNil(err)
}

func TestTokenRoundTrip(t *testing.T) {
	assert := assert.New(t)
	c := newTestContext(t)

	token, err := c.CreateAccessToken("alice", []string{"directory", "lims"})
	assert.Nil(err)
	for _, audience := range []string{"directory", "lims"} {
		claims, err := c.DecodeAccessToken(token, audience)
		assert.Nil(err)
		assert.Equal("alice", claims.Subject)
		assert.True(claims.HasAudience(audience))
		remaining := claims.Remaining(time.Now())
		assert.True(remaining > 29*time.Minute && remaining <= 30*time.Minute)
	}

	_, err = c.CreateAccessToken("", []string{"lims"})
	assert.NotNil(err)
	_, err = c.CreateAccessToken("alice", nil)
	assert.NotNil(err)
}

func TestTokenAudienceIsolation(t *testing.T) {
	assert := assert.New(t)
	c := newTestContext(t)

	token, err := c.CreateAccessToken("alice", []string{"directory"})
	assert.Nil(err)
	for _, audience := range []string{"lims", "all", "", "directoryx"} {
		claims, err := c.DecodeAccessToken(token, audience)
		assert.Nil(claims)
		var unauthorized *UnauthorizedError
		assert.True(errors.As(err, &unauthorized), "audience %q accepted", audience)
		assert.True(errors.Is(err, ErrInvalidToken))
	}
}

func TestTokenRejectsOtherKeyAndGarbage(t *testing.T) {
	assert := assert.New(t)
	c := newTestContext(t)
	other, err := NewContext("another secret entirely", "HS256", time.Minute)
	assert.Nil(err)

	token, err := other.CreateAccessToken("mallory", []string{"lims"})
	assert.Nil(err)
	_, err = c.DecodeAccessToken(token, "lims")
	assert.NotNil(err)

	// same secret, different algorithm
	c384, err := NewContext("72f0337b7a0ba5efc612af93bd75e5ff", "HS384", time.Minute)
	assert.Nil(err)
	token, err = c384.CreateAccessToken("mallory", []string{"lims"})
	assert.Nil(err)
	_, err = c.DecodeAccessToken(token, "lims")
	assert.NotNil(err)

	_, err = c.DecodeAccessToken("garbage", "lims")
	assert.NotNil(err)
}

func TestTokenExpires(t *testing.T) {
	assert := assert.New(t)
	c := newTestContext(t)

	token, err := c.CreateAccessToken("alice", []string{"lims"})
	assert.Nil(err)
	c.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	_, err = c.DecodeAccessToken(token, "lims")
	var unauthorized *UnauthorizedError
	assert.True(errors.As(err, &unauthorized))
	assert.Equal("token expired", unauthorized.Reason)
}

func TestStoreAndRetrieve(t *testing.T) {
	assert := assert.New(t)
	c := newTestContext(t)
	s, server := newTestStore(t, c, GlobalInvalidation)
	ctx := context.Background()

	token, err := c.CreateAccessToken("alice", []string{"directory", "lims"})
	assert.Nil(err)
	stored, err := s.Store(ctx, token, []string{"directory", "lims"},
		Credentials{Subject: "alice", Secret: "s3cr3t"})
	assert.Nil(err)
	assert.Equal([]string{"directory", "lims"}, stored)

	credentials, err := s.Retrieve(ctx, token, "lims")
	assert.Nil(err)
	assert.Equal("alice", credentials.Subject)
	assert.Equal("s3cr3t", credentials.Secret)
	assert.Equal("lims", credentials.Audience)

	// secrets are not stored in the clear and expire with the token
	raw, err := server.Get(token + ":lims")
	assert.Nil(err)
	assert.NotContains(raw, "s3cr3t")
	ttl := server.TTL(token + ":lims")
	assert.True(ttl > 29*time.Minute && ttl <= 30*time.Minute)
}

func TestStoreSkipsAudiencesTheTokenDoesNotCover(t *testing.T) {
	assert := assert.New(t)
	c := newTestContext(t)
	s, _ := newTestStore(t, c, GlobalInvalidation)
	ctx := context.Background()

	token, err := c.CreateAccessToken("alice", []string{"lims"})
	assert.Nil(err)
	stored, err := s.Store(ctx, token, []string{"directory", "lims"},
		Credentials{Subject: "alice", Secret: "session-1"})
	assert.Nil(err)
	assert.Equal([]string{"lims"}, stored)

	_, err = s.Retrieve(ctx, token, "directory")
	var notFound *NotFoundError
	assert.True(errors.As(err, &notFound))
	_, err = s.Retrieve(ctx, token, "lims")
	assert.Nil(err)
}

func TestInvalidationIsGlobal(t *testing.T) {
	assert := assert.New(t)
	c := newTestContext(t)
	s, _ := newTestStore(t, c, GlobalInvalidation)
	ctx := context.Background()

	token, err := c.CreateAccessToken("alice", []string{"directory", "lims"})
	assert.Nil(err)
	_, err = s.Store(ctx, token, []string{"directory", "lims"}, Credentials{Subject: "alice", Secret: "x"})
	assert.Nil(err)

	invalidated, err := s.IsInvalidated(ctx, token)
	assert.Nil(err)
	assert.False(invalidated)

	err = s.Remove(ctx, token, "directory")
	assert.Nil(err)
	invalidated, err = s.IsInvalidated(ctx, token)
	assert.Nil(err)
	assert.True(invalidated)

	// the other audience is gone too
	_, err = s.Retrieve(ctx, token, "lims")
	var notFound *NotFoundError
	assert.True(errors.As(err, &notFound))

	// storing again does not resurrect an invalidated token
	_, err = s.Store(ctx, token, []string{"lims"}, Credentials{Subject: "alice", Secret: "x"})
	assert.Nil(err)
	_, err = s.Retrieve(ctx, token, "lims")
	assert.True(errors.As(err, &notFound))
}

func TestAudienceInvalidationPolicy(t *testing.T) {
	assert := assert.New(t)
	c := newTestContext(t)
	s, _ := newTestStore(t, c, AudienceInvalidation)
	ctx := context.Background()
	assert.Equal("audience", s.Policy().String())

	token, err := c.CreateAccessToken("alice", []string{"directory", "lims"})
	assert.Nil(err)
	_, err = s.Store(ctx, token, []string{"directory", "lims"}, Credentials{Subject: "alice", Secret: "x"})
	assert.Nil(err)

	err = s.Remove(ctx, token, "directory")
	assert.Nil(err)
	invalidated, err := s.IsInvalidated(ctx, token)
	assert.Nil(err)
	assert.False(invalidated)
	_, err = s.Retrieve(ctx, token, "directory")
	assert.NotNil(err)
	_, err = s.Retrieve(ctx, token, "lims")
	assert.Nil(err)

	// an explicit invalidation is still global
	assert.Nil(s.Invalidate(ctx, token))
	_, err = s.Retrieve(ctx, token, "lims")
	assert.NotNil(err)
}

func TestParseInvalidationPolicy(t *testing.T) {
	assert := assert.New(t)
	policy, err := ParseInvalidationPolicy("global")
	assert.Nil(err)
	assert.Equal(GlobalInvalidation, policy)
	policy, err = ParseInvalidationPolicy("audience")
	assert.Nil(err)
	assert.Equal(AudienceInvalidation, policy)
	_, err = ParseInvalidationPolicy("whenever")
	assert.NotNil(err)
}

func TestNewStoreRejectsBadKey(t *testing.T) {
	_, err := NewStore(newTestContext(t), nil, "not a fernet key", GlobalInvalidation)
	assert.NotNil(t, err)
}
