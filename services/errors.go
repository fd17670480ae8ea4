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
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/empa-scientific-it/openbis-uploader/auth"
	"github.com/empa-scientific-it/openbis-uploader/credentials"
	"github.com/empa-scientific-it/openbis-uploader/datastore"
	"github.com/empa-scientific-it/openbis-uploader/directory"
	"github.com/empa-scientific-it/openbis-uploader/jobs"
	"github.com/empa-scientific-it/openbis-uploader/openbis"
	"github.com/empa-scientific-it/openbis-uploader/parsers"
)

// converts an error returned by one of the uploader's packages into the API
// error carrying the matching status code
func httpError(err error) error {
	if err == nil {
		return nil
	}
	var statusErr huma.StatusError
	if errors.As(err, &statusErr) {
		return err
	}

	var (
		unauthorized  *credentials.UnauthorizedError
		login         *auth.LoginError
		limsAuth      *openbis.AuthenticationError
		limsSession   *openbis.SessionError
		target        *jobs.TargetError
		noGroup       *directory.NoGroupError
		unknown       *auth.UnknownServiceError
		jobNotFound   *jobs.NotFoundError
		entityMissing *openbis.NotFoundError
		fileMissing   *datastore.FileNotFoundError
		parserMissing *parsers.NotFoundError
		missingTarget *jobs.MissingTargetError
		invalidName   *datastore.InvalidNameError
		validation    *parsers.ValidationError
		invalidEntity *openbis.InvalidEntityError
		duplicate     *openbis.DuplicateError
	)
	switch {
	case errors.As(err, &unauthorized), errors.As(err, &login), errors.As(err, &limsAuth),
		errors.As(err, &limsSession), errors.As(err, &target):
		return huma.Error401Unauthorized(err.Error())
	case errors.As(err, &noGroup):
		return huma.Error403Forbidden(err.Error())
	case errors.As(err, &unknown), errors.As(err, &jobNotFound), errors.As(err, &entityMissing),
		errors.As(err, &fileMissing), errors.As(err, &parserMissing), errors.As(err, &missingTarget):
		return huma.Error404NotFound(err.Error())
	case errors.As(err, &duplicate):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &invalidName), errors.As(err, &validation), errors.As(err, &invalidEntity):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	slog.Error(fmt.Sprintf("Request failed: %s", err.Error()))
	return huma.Error500InternalServerError(err.Error())
}
