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
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// what an operation does to its entity
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// one mutation in a batch sent to Client.Execute
type Operation struct {
	Action Action
	Entity Entity
	// for creations, the pending reference later operations may use to refer
	// to the created entity
	Ref string
	// for deletions, the reason recorded by the LIMS
	Reason string
}

// Client is the interface satisfied by LIMS backends. Every call but Login is
// made on behalf of a session token.
type Client interface {
	// returns a session token for the given user
	Login(ctx context.Context, user, password string) (string, error)
	// ends a session
	Logout(ctx context.Context, session string) error
	// returns true if the session is still valid
	IsSessionActive(ctx context.Context, session string) (bool, error)
	// describes the session's user
	SessionInformation(ctx context.Context, session string) (SessionInformation, error)
	// fetches an entity by identifier (or permanent id)
	Get(ctx context.Context, session string, kind Kind, identifier string) (Entity, error)
	// lists the entities of a kind that match the criteria
	Search(ctx context.Context, session string, kind Kind, criteria Criteria) ([]Entity, error)
	// executes the operations atomically, returning the created entities in
	// the order of their creations
	Execute(ctx context.Context, session string, operations []Operation) ([]Entity, error)
}

// A Session binds a Client to one session token.
type Session struct {
	client Client
	token  string
}

// logs into the client and returns the new session
func Login(ctx context.Context, client Client, user, password string) (*Session, error) {
	token, err := client.Login(ctx, user, password)
	if err != nil {
		return nil, err
	}
	return NewSession(client, token), nil
}

// wraps an existing session token
func NewSession(client Client, token string) *Session {
	return &Session{client: client, token: token}
}

// the session token
func (s *Session) Token() string {
	return s.token
}

// the client the session belongs to
func (s *Session) Client() Client {
	return s.client
}

func (s *Session) Active(ctx context.Context) (bool, error) {
	return s.client.IsSessionActive(ctx, s.token)
}

func (s *Session) Information(ctx context.Context) (SessionInformation, error) {
	return s.client.SessionInformation(ctx, s.token)
}

func (s *Session) Logout(ctx context.Context) error {
	return s.client.Logout(ctx, s.token)
}

func (s *Session) Get(ctx context.Context, kind Kind, identifier string) (Entity, error) {
	return s.client.Get(ctx, s.token, kind, identifier)
}

func (s *Session) Search(ctx context.Context, kind Kind, criteria Criteria) ([]Entity, error) {
	return s.client.Search(ctx, s.token, kind, criteria)
}

func (s *Session) Execute(ctx context.Context, operations []Operation) ([]Entity, error) {
	return s.client.Execute(ctx, s.token, operations)
}

// returns true if an entity with the given identifier exists
func (s *Session) Exists(ctx context.Context, kind Kind, identifier string) (bool, error) {
	_, err := s.Get(ctx, kind, identifier)
	if err == nil {
		return true, nil
	}
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}

// saves a single entity immediately
func (s *Session) Create(ctx context.Context, e Entity) (Entity, error) {
	created, err := s.Execute(ctx, []Operation{{Action: ActionCreate, Entity: e}})
	if err != nil {
		var txErr *TransactionError
		if errors.As(err, &txErr) {
			return Entity{}, txErr.Err
		}
		return Entity{}, err
	}
	if len(created) != 1 {
		return Entity{}, fmt.Errorf("The LIMS created %d entities instead of 1", len(created))
	}
	return created[0], nil
}

// saves an entity, or fetches the existing one if an entity with the same
// identifier is already there; created reports which of the two happened
func (s *Session) CreateOrFetch(ctx context.Context, e Entity) (entity Entity, created bool, err error) {
	entity, err = s.Create(ctx, e)
	if err == nil {
		return entity, true, nil
	}
	var duplicate *DuplicateError
	if !errors.As(err, &duplicate) {
		return Entity{}, false, err
	}
	identifier := duplicate.Identifier
	if identifier == "" {
		identifier = e.ComputeIdentifier()
	}
	slog.Debug(fmt.Sprintf("%s %s already exists, fetching it", e.Kind, identifier))
	entity, err = s.Get(ctx, e.Kind, identifier)
	return entity, false, err
}

// deletes a single entity immediately
func (s *Session) Delete(ctx context.Context, kind Kind, identifier, reason string) error {
	_, err := s.Execute(ctx, []Operation{{Action: ActionDelete,
		Entity: Entity{Kind: kind, Identifier: identifier}, Reason: reason}})
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr.Err
	}
	return err
}

// updates the properties (and description) of a single entity immediately
func (s *Session) Update(ctx context.Context, e Entity) error {
	_, err := s.Execute(ctx, []Operation{{Action: ActionUpdate, Entity: e}})
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr.Err
	}
	return err
}
