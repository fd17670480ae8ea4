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

package directory

import (
	"fmt"
)

// indicates that a user name and password were not accepted
type AuthenticationError struct {
	Username string
}

func (e AuthenticationError) Error() string {
	return fmt.Sprintf("Invalid credentials for user %s", e.Username)
}

// indicates that the directory has no entry for a user
type UserNotFoundError struct {
	Username string
}

func (e UserNotFoundError) Error() string {
	return fmt.Sprintf("The user %s was not found in the directory", e.Username)
}

// indicates that the directory could not be reached or refused the principal
type UnavailableError struct {
	Message string
}

func (e UnavailableError) Error() string {
	return fmt.Sprintf("The directory is unavailable: %s", e.Message)
}

// indicates that a distinguished name could not be decomposed
type InvalidDNError struct {
	DN, Message string
}

func (e InvalidDNError) Error() string {
	return fmt.Sprintf("Invalid distinguished name %q: %s", e.DN, e.Message)
}

// indicates that none of a user's memberships names a group
type NoGroupError struct {
	Username string
}

func (e NoGroupError) Error() string {
	return fmt.Sprintf("The user %s belongs to no group", e.Username)
}
