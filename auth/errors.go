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
	"fmt"
)

// indicates that no resource server has the given identifier
type UnknownServiceError struct {
	Service string
}

func (e UnknownServiceError) Error() string {
	return fmt.Sprintf("Unknown authentication service: %s", e.Service)
}

// indicates that a login failed because the backend rejected the user
type LoginError struct {
	Service  string
	Username string
}

func (e LoginError) Error() string {
	return fmt.Sprintf("Invalid credentials for %s on %s", e.Username, e.Service)
}

// indicates that a LIMS session was requested without a user session and no
// service account is configured
type NoServiceAccountError struct{}

func (e NoServiceAccountError) Error() string {
	return "No LIMS session is available and no LIMS service account is configured"
}
