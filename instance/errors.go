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

package instance

import (
	"fmt"
)

// indicates that an instance description cannot be created as written
type InvalidDescriptionError struct {
	Reason string
}

func (e InvalidDescriptionError) Error() string {
	return fmt.Sprintf("Invalid instance description: %s", e.Reason)
}

// indicates that a role cannot be assigned at a level
type InvalidRoleError struct {
	User, Role, Level string
}

func (e InvalidRoleError) Error() string {
	return fmt.Sprintf("Cannot assign role %s to %s at level %s", e.Role, e.User, e.Level)
}

// indicates that some entities of a tree could not be wiped
type WipeError struct {
	Failed []string
	Err    error
}

func (e WipeError) Error() string {
	return fmt.Sprintf("Couldn't wipe %d entities (first: %s): %s", len(e.Failed), e.Failed[0], e.Err)
}

func (e WipeError) Unwrap() error {
	return e.Err
}
