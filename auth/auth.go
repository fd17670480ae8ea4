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

// Package auth implements the resource servers the uploader authenticates
// against (the LDAP directory and the LIMS) and the manager that lets one
// bearer token authorize several of them at once.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/empa-scientific-it/openbis-uploader/credentials"
)

// identifiers of the resource servers, used as token audiences
const (
	DirectoryService = "directory"
	LimsService      = "lims"
	// names every configured resource server at once
	AllServices = "all"
)

// information about the user a token was issued to
type UserInfo struct {
	// user name (token subject)
	Username string `json:"username"`
	// display name and e-mail address, if the backend knows them
	Name string `json:"name,omitempty"`
	Mail string `json:"mail,omitempty"`
	// group used to route the user to a data store, if known
	Group string `json:"group,omitempty"`
	// distinguished names of the user's group memberships
	Groups []string `json:"groups,omitempty"`
	// audiences the token is valid for
	Audience []string `json:"audience"`
	// expiry time of the token
	Expires time.Time `json:"expires"`
}

// A ResourceServer is an identity backend the uploader logs users into.
type ResourceServer interface {
	// the server's identifier, used as a token audience
	Id() string
	// authenticates the user against the backend, returning a bearer token
	// for this server's audience and the credentials to store for it
	Login(ctx context.Context, username, password string) (string, credentials.Credentials, error)
	// returns true if the token is valid for this server and the backend
	// still recognizes the user or session
	Verify(ctx context.Context, token string) (bool, error)
	// describes the user a token was issued to
	UserInfo(ctx context.Context, token string) (UserInfo, error)
	// ends the backend session (if any) behind the token, leaving its stored
	// credentials in place
	EndSession(ctx context.Context, token string) error
	// ends the backend session (if any) and removes the token's credentials
	Logout(ctx context.Context, token string) error
}

// decodes a token for the given audience and makes sure it has not been
// invalidated and still has stored credentials
func verifyStored(ctx context.Context, c *credentials.Context, store *credentials.Store,
	token, audience string) (*credentials.Claims, credentials.Credentials, error) {
	claims, err := c.DecodeAccessToken(token, audience)
	if err != nil {
		return nil, credentials.Credentials{}, err
	}
	stored, err := store.Retrieve(ctx, token, audience)
	if err != nil {
		var notFound *credentials.NotFoundError
		if errors.As(err, &notFound) {
			return nil, credentials.Credentials{}, &credentials.UnauthorizedError{
				Reason: fmt.Sprintf("no credentials for %s: %s", audience, notFound.Reason),
				Err:    credentials.ErrInvalidToken,
			}
		}
		return nil, credentials.Credentials{}, err
	}
	return claims, stored, nil
}

// returns true if err means that a token or credential was rejected, as
// opposed to a failing backend
func isRejection(err error) bool {
	var unauthorized *credentials.UnauthorizedError
	return errors.As(err, &unauthorized)
}
