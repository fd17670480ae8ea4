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

package openbis

import (
	"fmt"
)

// indicates that the LIMS rejected a user name or password
type AuthenticationError struct {
	User string
}

func (e AuthenticationError) Error() string {
	return fmt.Sprintf("The LIMS rejected the credentials of %s", e.User)
}

// indicates that a LIMS session token is unknown or has expired
type SessionError struct {
	Message string
}

func (e SessionError) Error() string {
	return fmt.Sprintf("LIMS session error: %s", e.Message)
}

// indicates that an entity does not exist
type NotFoundError struct {
	Kind       Kind
	Identifier string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("The %s %s was not found", e.Kind, e.Identifier)
}

// indicates that an entity with the same identifier already exists
type DuplicateError struct {
	Kind       Kind
	Identifier string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("The %s %s already exists", e.Kind, e.Identifier)
}

// indicates that an entity is malformed or refers to something that cannot
// be used
type InvalidEntityError struct {
	Kind    Kind
	Code    string
	Message string
}

func (e InvalidEntityError) Error() string {
	return fmt.Sprintf("Invalid %s %s: %s", e.Kind, e.Code, e.Message)
}

// indicates that a transaction's operations could not be executed; nothing
// was committed
type TransactionError struct {
	Operation int
	Err       error
}

func (e TransactionError) Error() string {
	return fmt.Sprintf("Transaction aborted at operation %d: %s", e.Operation, e.Err.Error())
}

func (e TransactionError) Unwrap() error {
	return e.Err
}

// indicates that the LIMS could not be reached or answered with an error
type UnavailableError struct {
	URL     string
	Message string
}

func (e UnavailableError) Error() string {
	return fmt.Sprintf("The LIMS at %s is unavailable: %s", e.URL, e.Message)
}

// indicates that the LIMS is redirecting an HTTPS request to HTTP
type DowngradedRedirectError struct {
	Endpoint string
}

func (e DowngradedRedirectError) Error() string {
	return fmt.Sprintf("The endpoint %s is attempting to downgrade an HTTPS request to HTTP",
		e.Endpoint)
}

// indicates that the LIMS answered a call with an error of its own
type RemoteError struct {
	Method  string
	Message string
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("The LIMS call %s failed: %s", e.Method, e.Message)
}
