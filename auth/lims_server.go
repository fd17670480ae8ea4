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
	"sync"

	"github.com/empa-scientific-it/openbis-uploader/config"
	"github.com/empa-scientific-it/openbis-uploader/credentials"
	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

// LimsServer authenticates users against the LIMS. The credentials it stores
// hold the user's LIMS session token.
type LimsServer struct {
	context *credentials.Context
	store   *credentials.Store
	client  openbis.Client

	serviceUser     string
	servicePassword string
	mu              sync.Mutex
	service         *openbis.Session
}

// creates a LIMS server using the given client and the service account from
// the global LIMS configuration
func NewLimsServerFromConfig(c *credentials.Context, store *credentials.Store,
	client openbis.Client) *LimsServer {
	return NewLimsServer(c, store, client, config.Lims.ServiceUser, config.Lims.ServicePassword)
}

// creates a LIMS server; serviceUser may be empty if there is no service
// account
func NewLimsServer(c *credentials.Context, store *credentials.Store, client openbis.Client,
	serviceUser, servicePassword string) *LimsServer {
	return &LimsServer{
		context:         c,
		store:           store,
		client:          client,
		serviceUser:     serviceUser,
		servicePassword: servicePassword,
	}
}

func (s *LimsServer) Id() string {
	return LimsService
}

// the LIMS client
func (s *LimsServer) Client() openbis.Client {
	return s.client
}

func (s *LimsServer) Login(ctx context.Context, username, password string) (string, credentials.Credentials, error) {
	session, err := s.client.Login(ctx, username, password)
	if err != nil {
		var authErr *openbis.AuthenticationError
		if errors.As(err, &authErr) {
			return "", credentials.Credentials{}, &LoginError{Service: s.Id(), Username: username}
		}
		return "", credentials.Credentials{}, err
	}
	token, err := s.context.CreateAccessToken(username, []string{s.Id()})
	if err != nil {
		s.client.Logout(ctx, session)
		return "", credentials.Credentials{}, err
	}
	return token, credentials.Credentials{Subject: username, Secret: session}, nil
}

func (s *LimsServer) Verify(ctx context.Context, token string) (bool, error) {
	_, stored, err := verifyStored(ctx, s.context, s.store, token, s.Id())
	if err != nil {
		if isRejection(err) {
			return false, nil
		}
		return false, err
	}
	return s.client.IsSessionActive(ctx, stored.Secret)
}

func (s *LimsServer) UserInfo(ctx context.Context, token string) (UserInfo, error) {
	claims, stored, err := verifyStored(ctx, s.context, s.store, token, s.Id())
	if err != nil {
		return UserInfo{}, err
	}
	info, err := s.client.SessionInformation(ctx, stored.Secret)
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{
		Username: info.UserId,
		Group:    info.HomeSpace,
		Audience: claims.Audience,
		Expires:  claims.ExpiresAt.Time,
	}, nil
}

// logs the LIMS session stored for the token out; a token without a stored
// session is left alone
func (s *LimsServer) EndSession(ctx context.Context, token string) error {
	stored, err := s.store.Retrieve(ctx, token, s.Id())
	if err != nil {
		var notFound *credentials.NotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	if err := s.client.Logout(ctx, stored.Secret); err != nil {
		slog.Warn(fmt.Sprintf("Couldn't end LIMS session of %s: %s", stored.Subject, err.Error()))
	}
	return nil
}

func (s *LimsServer) Logout(ctx context.Context, token string) error {
	if err := s.EndSession(ctx, token); err != nil {
		return err
	}
	return s.store.Remove(ctx, token, s.Id())
}

// returns the live LIMS session bound to the token
func (s *LimsServer) Session(ctx context.Context, token string) (*openbis.Session, error) {
	_, stored, err := verifyStored(ctx, s.context, s.store, token, s.Id())
	if err != nil {
		return nil, err
	}
	active, err := s.client.IsSessionActive(ctx, stored.Secret)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, &credentials.UnauthorizedError{Reason: "LIMS session expired",
			Err: credentials.ErrInvalidToken}
	}
	return openbis.NewSession(s.client, stored.Secret), nil
}

// returns true if a service account is configured
func (s *LimsServer) HasServiceAccount() bool {
	return s.serviceUser != ""
}

// returns the session of the service account, logging in (again) if there
// is no active one; the session is shared by everything in the process
func (s *LimsServer) ServiceSession(ctx context.Context) (*openbis.Session, error) {
	if !s.HasServiceAccount() {
		return nil, &NoServiceAccountError{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.service != nil {
		active, err := s.service.Active(ctx)
		if err != nil {
			return nil, err
		}
		if active {
			return s.service, nil
		}
	}
	session, err := openbis.Login(ctx, s.client, s.serviceUser, s.servicePassword)
	if err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("Opened LIMS service session as %s", s.serviceUser))
	s.service = session
	return session, nil
}

// returns the token's own LIMS session if it has one, and the service
// session otherwise
func (s *LimsServer) SessionOrService(ctx context.Context, token string) (*openbis.Session, error) {
	session, err := s.Session(ctx, token)
	if err == nil {
		return session, nil
	}
	if !isRejection(err) || !s.HasServiceAccount() {
		return nil, err
	}
	slog.Debug("Token carries no LIMS session, using the service session")
	return s.ServiceSession(ctx)
}
