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

package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/empa-scientific-it/openbis-uploader/auth"
	"github.com/empa-scientific-it/openbis-uploader/metrics"
)

type TokenOutput struct {
	Body TokenResponse `doc:"A bearer token for the requested backends"`
}

type CheckOutput struct {
	Body CheckResponse
}

type MessageOutput struct {
	Body MessageResponse
}

type UserInfoOutput struct {
	Body auth.UserInfo `doc:"The user the token was issued to"`
}

func (service *Service) addAuthEndpoints(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/authorize/{service}/token",
		Summary:     "Log into a backend (directory, lims or all)",
		Tags:        []string{"authorization"},
	}, service.login)
	huma.Get(api, "/authorize/{service}/check", service.checkToken)
	huma.Get(api, "/authorize/{service}/logout", service.logout)
	huma.Get(api, "/authorize/{service}/me", service.getMe)
}

// handler method for logins with form-encoded credentials
func (service *Service) login(ctx context.Context,
	input *struct {
		Service string `path:"service" example:"all" doc:"directory, lims or all"`
		RawBody []byte `contentType:"application/x-www-form-urlencoded"`
	}) (*TokenOutput, error) {

	form, err := url.ParseQuery(string(input.RawBody))
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	username := strings.TrimSpace(form.Get("username"))
	password := form.Get("password")
	if username == "" || password == "" {
		return nil, huma.Error422UnprocessableEntity("Both username and password are required")
	}

	slog.Info(fmt.Sprintf("Logging %s into %s...", username, input.Service))
	token, err := service.deps.Auth.Login(ctx, input.Service, username, password)
	metrics.RecordLogin(input.Service, err)
	if err != nil {
		return nil, httpError(err)
	}
	return &TokenOutput{
		Body: TokenResponse{
			AccessToken: token,
			TokenType:   "bearer",
		},
	}, nil
}

// handler method for token checks; a token that can't be verified for any
// reason is reported as invalid
func (service *Service) checkToken(ctx context.Context,
	input *struct {
		Service       string `path:"service" example:"all" doc:"directory, lims or all"`
		Token         string `query:"token" doc:"The token to check (instead of the authorization header)"`
		Authorization string `header:"authorization" doc:"Authorization header with a bearer token"`
	}) (*CheckOutput, error) {

	token := input.Token
	if token == "" {
		token, _ = bearerToken(input.Authorization)
	}
	if _, err := service.deps.Auth.Server(input.Service); err != nil && input.Service != auth.AllServices {
		return nil, httpError(err)
	}
	valid := false
	if token != "" {
		var err error
		valid, err = service.deps.Auth.Check(ctx, input.Service, token)
		if err != nil {
			slog.Warn(fmt.Sprintf("Couldn't check a token for %s: %s", input.Service, err.Error()))
			valid = false
		}
	}
	metrics.RecordTokenCheck(input.Service, valid)
	return &CheckOutput{
		Body: CheckResponse{
			Token: token,
			Valid: valid,
		},
	}, nil
}

// handler method for logouts
func (service *Service) logout(ctx context.Context,
	input *struct {
		Service       string `path:"service" example:"all" doc:"directory, lims or all"`
		Authorization string `header:"authorization" doc:"Authorization header with a bearer token"`
	}) (*MessageOutput, error) {

	token, err := bearerToken(input.Authorization)
	if err != nil {
		return nil, err
	}
	if err = service.deps.Auth.Logout(ctx, input.Service, token); err != nil {
		return nil, httpError(err)
	}
	return &MessageOutput{
		Body: MessageResponse{Message: fmt.Sprintf("Logged out of %s", input.Service)},
	}, nil
}

// handler method describing the bearer's user
func (service *Service) getMe(ctx context.Context,
	input *struct {
		Service       string `path:"service" example:"directory" doc:"directory, lims or all"`
		Authorization string `header:"authorization" doc:"Authorization header with a bearer token"`
	}) (*UserInfoOutput, error) {

	token, err := bearerToken(input.Authorization)
	if err != nil {
		return nil, err
	}
	info, err := service.deps.Auth.UserInfo(ctx, input.Service, token)
	if err != nil {
		return nil, httpError(err)
	}
	return &UserInfoOutput{Body: info}, nil
}
