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

package jobs

import (
	"fmt"

	"github.com/google/uuid"
)

// indicates that a transfer names both an object and a collection as its
// target, or neither
type TargetError struct {
	Reason string
}

func (e TargetError) Error() string {
	return fmt.Sprintf("Invalid transfer target: %s", e.Reason)
}

// indicates that a job is sought but not found
type NotFoundError struct {
	Id uuid.UUID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("The job %s was not found.", e.Id.String())
}

// indicates that the LIMS has no entity at the transfer's target
type MissingTargetError struct {
	Level      Level
	Identifier string
}

func (e MissingTargetError) Error() string {
	return fmt.Sprintf("The target %s %s does not exist", e.Level, e.Identifier)
}

// indicates that a pipeline stage panicked while running a job
type PanicError struct {
	Stage string
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("The %s stage panicked: %v", e.Stage, e.Value)
}

// indicates that a job record stored in the broker could not be read
type InvalidJobError struct {
	Id      string
	Message string
}

func (e InvalidJobError) Error() string {
	return fmt.Sprintf("The record of job %s is invalid: %s", e.Id, e.Message)
}
