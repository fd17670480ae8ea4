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

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/empa-scientific-it/openbis-uploader/config"
	"github.com/empa-scientific-it/openbis-uploader/credentials"
	"github.com/empa-scientific-it/openbis-uploader/directory"
)

// DirectoryServer authenticates users against the LDAP directory. The
// credentials it stores hold the user's distinguished name, never the
// password.
type DirectoryServer struct {
	context        *credentials.Context
	store          *credentials.Store
	directory      *directory.Directory
	groupAttribute string
}

// creates a directory server from the global directory configuration
func NewDirectoryServerFromConfig(c *credentials.Context, store *credentials.Store) *DirectoryServer {
	return NewDirectoryServer(c, store, directory.NewFromConfig(), config.Directory.GroupAttribute)
}

// creates a directory server; users' groups are read from the groupAttribute
// component of their membership DNs
func NewDirectoryServer(c *credentials.Context, store *credentials.Store,
	d *directory.Directory, groupAttribute string) *DirectoryServer {
	return &DirectoryServer{
		context:        c,
		store:          store,
		directory:      d,
		groupAttribute: groupAttribute,
	}
}

func (s *DirectoryServer) Id() string {
	return DirectoryService
}

func (s *DirectoryServer) Login(ctx context.Context, username, password string) (string, credentials.Credentials, error) {
	user, err := s.directory.Authenticate(ctx, username, password)
	if err != nil {
		var authErr *directory.AuthenticationError
		if errors.As(err, &authErr) {
			return "", credentials.Credentials{}, &LoginError{Service: s.Id(), Username: username}
		}
		return "", credentials.Credentials{}, err
	}
	token, err := s.context.CreateAccessToken(username, []string{s.Id()})
	if err != nil {
		return "", credentials.Credentials{}, err
	}
	return token, credentials.Credentials{Subject: username, Secret: user.DN}, nil
}

func (s *DirectoryServer) Verify(ctx context.Context, token string) (bool, error) {
	claims, _, err := verifyStored(ctx, s.context, s.store, token, s.Id())
	if err != nil {
		if isRejection(err) {
			return false, nil
		}
		return false, err
	}
	if _, err = s.directory.Lookup(ctx, claims.Subject); err != nil {
		var notFound *directory.UserNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// looks up the directory entry of the token's user
func (s *DirectoryServer) user(ctx context.Context, token string) (*credentials.Claims, *directory.User, error) {
	claims, _, err := verifyStored(ctx, s.context, s.store, token, s.Id())
	if err != nil {
		return nil, nil, err
	}
	user, err := s.directory.Lookup(ctx, claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	return claims, user, nil
}

func (s *DirectoryServer) UserInfo(ctx context.Context, token string) (UserInfo, error) {
	claims, user, err := s.user(ctx, token)
	if err != nil {
		return UserInfo{}, err
	}
	info := UserInfo{
		Username: user.Username,
		Name:     user.Name,
		Mail:     user.Mail,
		Groups:   user.Groups,
		Audience: claims.Audience,
		Expires:  claims.ExpiresAt.Time,
	}
	if group, err := user.Group(s.groupAttribute); err == nil {
		info.Group = group
	}
	return info, nil
}

// returns the group of the token's user, which names the user's data store
func (s *DirectoryServer) Group(ctx context.Context, token string) (string, error) {
	_, user, err := s.user(ctx, token)
	if err != nil {
		return "", err
	}
	return user.Group(s.groupAttribute)
}

// directory logins hold no session
func (s *DirectoryServer) EndSession(ctx context.Context, token string) error {
	return nil
}

func (s *DirectoryServer) Logout(ctx context.Context, token string) error {
	slog.Debug(fmt.Sprintf("Removing %s credentials", s.Id()))
	return s.store.Remove(ctx, token, s.Id())
}
