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

package directory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/empa-scientific-it/openbis-uploader/directory"
	"github.com/empa-scientific-it/openbis-uploader/uploadertest"
)

func newTestDirectory() *uploadertest.Directory {
	d := uploadertest.NewDirectory("dc=empa,dc=ch", "cn=admin,dc=empa,dc=ch", "principal")
	d.AddUser(uploadertest.DirectoryUser{
		Uid:      "basi",
		Password: "password",
		Name:     "Simone Baffelli",
		Mail:     "basi@example.com",
		MemberOf: []string{"cn=700,ou=users,dc=empa,dc=ch"},
	})
	d.AddUser(uploadertest.DirectoryUser{
		Uid:      "loner",
		Password: "password",
	})
	return d
}

func TestAuthenticate(t *testing.T) {
	assert := assert.New(t)
	d := newTestDirectory().Client()
	ctx := context.Background()

	user, err := d.Authenticate(ctx, "basi", "password")
	assert.Nil(err)
	assert.Equal("basi", user.Username)
	assert.Equal("uid=basi,ou=users,dc=empa,dc=ch", user.DN)
	assert.Equal("basi@example.com", user.Mail)

	var authErr *directory.AuthenticationError
	_, err = d.Authenticate(ctx, "basi", "wrong")
	assert.True(errors.As(err, &authErr))
	_, err = d.Authenticate(ctx, "nobody", "password")
	assert.True(errors.As(err, &authErr))
	_, err = d.Authenticate(ctx, "basi", "")
	assert.True(errors.As(err, &authErr))
}

func TestLookup(t *testing.T) {
	assert := assert.New(t)
	fixture := newTestDirectory()
	d := fixture.Client()
	ctx := context.Background()

	user, err := d.Lookup(ctx, "basi")
	assert.Nil(err)
	assert.Equal([]string{"cn=700,ou=users,dc=empa,dc=ch"}, user.Groups)

	_, err = d.Lookup(ctx, "nobody")
	var notFound *directory.UserNotFoundError
	assert.True(errors.As(err, &notFound))

	fixture.Down = true
	_, err = d.Lookup(ctx, "basi")
	var unavailable *directory.UnavailableError
	assert.True(errors.As(err, &unavailable))
}

func TestWrongPrincipalIsUnavailable(t *testing.T) {
	fixture := newTestDirectory()
	d := directory.New(fixture.Dialer(), fixture.Principal, "wrong", fixture.Base,
		"(&(objectclass=inetOrgPerson)(uid=%s))")
	_, err := d.Lookup(context.Background(), "basi")
	var unavailable *directory.UnavailableError
	assert.True(t, errors.As(err, &unavailable))
}

func TestDecomposeDN(t *testing.T) {
	assert := assert.New(t)
	components, err := directory.DecomposeDN("CN=700,ou=users,dc=empa,dc=ch")
	assert.Nil(err)
	assert.Equal([]directory.Component{
		{Type: "cn", Value: "700"},
		{Type: "ou", Value: "users"},
		{Type: "dc", Value: "empa"},
		{Type: "dc", Value: "ch"},
	}, components)

	value, err := directory.ComponentValue("cn=700,ou=users,dc=empa,dc=ch", "OU")
	assert.Nil(err)
	assert.Equal("users", value)

	_, err = directory.ComponentValue("cn=700,dc=ch", "ou")
	assert.NotNil(err)
	_, err = directory.DecomposeDN("this is not a dn")
	var invalid *directory.InvalidDNError
	assert.True(errors.As(err, &invalid))
}

func TestUserGroup(t *testing.T) {
	assert := assert.New(t)
	user := directory.User{
		Username: "basi",
		Groups:   []string{"ou=nogroup,dc=ch", "cn=700,ou=users,dc=empa,dc=ch"},
	}
	group, err := user.Group("cn")
	assert.Nil(err)
	assert.Equal("700", group)

	_, err = directory.User{Username: "loner"}.Group("cn")
	var noGroup *directory.NoGroupError
	assert.True(errors.As(err, &noGroup))
}
