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

// Package directory authenticates users against an LDAP directory and
// resolves the groups they belong to.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/empa-scientific-it/openbis-uploader/config"
)

// the subset of an LDAP connection used here (satisfied by *ldap.Conn)
type Conn interface {
	Bind(username, password string) error
	Search(request *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

// opens a new connection to the directory
type Dialer func(ctx context.Context) (Conn, error)

// returns a Dialer for the directory at the given URL
func URLDialer(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn, err := ldap.DialURL(url)
		if err != nil {
			return nil, &UnavailableError{Message: err.Error()}
		}
		return conn, nil
	}
}

// a user as recorded in the directory
type User struct {
	Username string   `json:"username"`
	DN       string   `json:"dn"`
	Name     string   `json:"name,omitempty"`
	Mail     string   `json:"mail,omitempty"`
	Groups   []string `json:"groups"`
}

// the attributes fetched for a user
var userAttributes = []string{"dn", "uid", "cn", "mail", "memberOf"}

// A Directory searches and authenticates against one LDAP server using a
// principal account for searches.
type Directory struct {
	dial      Dialer
	principal string
	password  string
	base      string
	filter    string
}

// creates a Directory from the global directory configuration
func NewFromConfig() *Directory {
	return New(URLDialer(config.Directory.URL), config.Directory.Principal,
		config.Directory.Password, config.Directory.Base, config.Directory.UserFilter)
}

// creates a Directory that searches below base as principal, locating users
// with filter (a format string with one %s for the user name)
func New(dial Dialer, principal, password, base, filter string) *Directory {
	return &Directory{
		dial:      dial,
		principal: principal,
		password:  password,
		base:      base,
		filter:    filter,
	}
}

// opens a connection bound as the search principal
func (d *Directory) principalConn(ctx context.Context) (Conn, error) {
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err = conn.Bind(d.principal, d.password); err != nil {
		conn.Close()
		return nil, &UnavailableError{Message: fmt.Sprintf("principal bind failed: %s", err.Error())}
	}
	return conn, nil
}

// searches conn for exactly one user with the given name
func (d *Directory) search(conn Conn, username string) (*User, error) {
	request := ldap.NewSearchRequest(
		d.base,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, 0, false,
		fmt.Sprintf(d.filter, ldap.EscapeFilter(username)),
		userAttributes,
		nil,
	)
	result, err := conn.Search(request)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, &UserNotFoundError{Username: username}
		}
		return nil, &UnavailableError{Message: err.Error()}
	}
	switch len(result.Entries) {
	case 0:
		return nil, &UserNotFoundError{Username: username}
	case 1:
	default:
		return nil, fmt.Errorf("The name %s matches more than one directory entry", username)
	}
	entry := result.Entries[0]
	return &User{
		Username: username,
		DN:       entry.DN,
		Name:     entry.GetAttributeValue("cn"),
		Mail:     entry.GetAttributeValue("mail"),
		Groups:   entry.GetAttributeValues("memberOf"),
	}, nil
}

// looks up the user with the given name
func (d *Directory) Lookup(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, &UserNotFoundError{Username: username}
	}
	conn, err := d.principalConn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return d.search(conn, username)
}

// checks the given password by binding as the user, returning the user's
// directory record on success
func (d *Directory) Authenticate(ctx context.Context, username, password string) (*User, error) {
	if username == "" || password == "" {
		// an empty password would be an unauthenticated bind
		return nil, &AuthenticationError{Username: username}
	}
	user, err := d.Lookup(ctx, username)
	if err != nil {
		var notFound *UserNotFoundError
		if errors.As(err, &notFound) {
			return nil, &AuthenticationError{Username: username}
		}
		return nil, err
	}
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err = conn.Bind(user.DN, password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return nil, &AuthenticationError{Username: username}
		}
		return nil, &UnavailableError{Message: err.Error()}
	}
	slog.Debug(fmt.Sprintf("Authenticated %s as %s", username, user.DN))
	return user, nil
}

// one attribute=value component of a distinguished name
type Component struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// splits a distinguished name into its attribute components, most specific
// first
func DecomposeDN(dn string) ([]Component, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, &InvalidDNError{DN: dn, Message: err.Error()}
	}
	components := make([]Component, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		for _, attribute := range rdn.Attributes {
			components = append(components, Component{
				Type:  strings.ToLower(attribute.Type),
				Value: attribute.Value,
			})
		}
	}
	return components, nil
}

// returns the value of the first component of type attribute in dn
func ComponentValue(dn, attribute string) (string, error) {
	components, err := DecomposeDN(dn)
	if err != nil {
		return "", err
	}
	attribute = strings.ToLower(attribute)
	for _, c := range components {
		if c.Type == attribute {
			return c.Value, nil
		}
	}
	return "", &InvalidDNError{DN: dn, Message: fmt.Sprintf("no %s component", attribute)}
}

// derives the name of the user's group from the first of the user's
// membership DNs that carries the given attribute
func (u User) Group(attribute string) (string, error) {
	for _, dn := range u.Groups {
		if group, err := ComponentValue(dn, attribute); err == nil && group != "" {
			return group, nil
		}
	}
	return "", &NoGroupError{Username: u.Username}
}
