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

	"github.com/empa-scientific-it/openbis-uploader/credentials"
)

// The Manager routes logins, checks and logouts to resource servers by
// identifier. The identifier "all" logs into the primary server and issues
// one token valid for every server.
type Manager struct {
	context *credentials.Context
	store   *credentials.Store
	servers map[string]ResourceServer
	order   []string
	primary string
}

// creates a manager for the given servers; primary names the server used by
// multi-backend logins
func NewManager(c *credentials.Context, store *credentials.Store, primary string,
	servers ...ResourceServer) (*Manager, error) {
	m := &Manager{
		context: c,
		store:   store,
		servers: make(map[string]ResourceServer),
		primary: primary,
	}
	for _, server := range servers {
		if _, found := m.servers[server.Id()]; found || server.Id() == AllServices {
			return nil, fmt.Errorf("Invalid or duplicate resource server: %s", server.Id())
		}
		m.servers[server.Id()] = server
		m.order = append(m.order, server.Id())
	}
	if _, found := m.servers[primary]; !found {
		return nil, &UnknownServiceError{Service: primary}
	}
	return m, nil
}

// identifiers of all servers, in registration order
func (m *Manager) Audiences() []string {
	return append([]string(nil), m.order...)
}

// the credentials store shared by the servers
func (m *Manager) Store() *credentials.Store {
	return m.store
}

// the credentials context shared by the servers
func (m *Manager) Context() *credentials.Context {
	return m.context
}

// returns the server with the given identifier
func (m *Manager) Server(service string) (ResourceServer, error) {
	if server, found := m.servers[service]; found {
		return server, nil
	}
	return nil, &UnknownServiceError{Service: service}
}

func (m *Manager) validService(service string) error {
	if service == AllServices {
		return nil
	}
	_, err := m.Server(service)
	return err
}

// logs the user into the given service (or all of them) and stores the
// resulting credentials, returning the bearer token
func (m *Manager) Login(ctx context.Context, service, username, password string) (string, error) {
	if err := m.validService(service); err != nil {
		return "", err
	}
	target := service
	if service == AllServices {
		target = m.primary
	}
	server := m.servers[target]
	token, stored, err := server.Login(ctx, username, password)
	if err != nil {
		return "", err
	}
	audiences := []string{target}
	if service == AllServices {
		// one token for every server, carrying the primary's credentials
		audiences = m.Audiences()
		token, err = m.context.CreateAccessToken(username, audiences)
		if err != nil {
			return "", err
		}
	}
	if _, err = m.store.Store(ctx, token, audiences, stored); err != nil {
		return "", err
	}
	slog.Info(fmt.Sprintf("Logged %s into %s", username, service))
	return token, nil
}

// returns true if the token is valid for the service; for "all", every
// server must accept it
func (m *Manager) Check(ctx context.Context, service, token string) (bool, error) {
	if err := m.validService(service); err != nil {
		return false, err
	}
	if service != AllServices {
		return m.servers[service].Verify(ctx, token)
	}
	for _, id := range m.order {
		valid, err := m.servers[id].Verify(ctx, token)
		if err != nil || !valid {
			return false, err
		}
	}
	return true, nil
}

// describes the token's user as seen by the service; for "all", the
// descriptions of the servers are merged in registration order
func (m *Manager) UserInfo(ctx context.Context, service, token string) (UserInfo, error) {
	if err := m.validService(service); err != nil {
		return UserInfo{}, err
	}
	if service != AllServices {
		return m.servers[service].UserInfo(ctx, token)
	}
	var merged UserInfo
	for _, id := range m.order {
		info, err := m.servers[id].UserInfo(ctx, token)
		if err != nil {
			return UserInfo{}, err
		}
		if merged.Username == "" {
			merged = info
			continue
		}
		if merged.Name == "" {
			merged.Name = info.Name
		}
		if merged.Mail == "" {
			merged.Mail = info.Mail
		}
		if merged.Group == "" {
			merged.Group = info.Group
		}
		if len(merged.Groups) == 0 {
			merged.Groups = info.Groups
		}
	}
	return merged, nil
}

// returns the claims of a token issued for the service, or for any server
// in the case of "all"
func (m *Manager) decode(service, token string) (*credentials.Claims, error) {
	if service != AllServices {
		return m.context.DecodeAccessToken(token, service)
	}
	var err error
	for _, id := range m.order {
		var claims *credentials.Claims
		if claims, err = m.context.DecodeAccessToken(token, id); err == nil {
			return claims, nil
		}
	}
	return nil, err
}

// logs the token out of the service (or all of them); tokens that don't
// decode for the service are rejected without touching the store
func (m *Manager) Logout(ctx context.Context, service, token string) error {
	if err := m.validService(service); err != nil {
		return err
	}
	if _, err := m.decode(service, token); err != nil {
		return err
	}
	if service != AllServices {
		return m.servers[service].Logout(ctx, token)
	}
	// backend sessions need the stored credentials, so they all end before
	// the token is invalidated
	var errs []error
	for _, id := range m.order {
		errs = append(errs, m.servers[id].EndSession(ctx, token))
	}
	errs = append(errs, m.store.Invalidate(ctx, token))
	return errors.Join(errs...)
}
