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

// This package contains testing utilities for the openBIS uploader.
package uploadertest

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-ldap/ldap/v3"
	"golang.org/x/text/encoding/charmap"

	"github.com/empa-scientific-it/openbis-uploader/broker"
	"github.com/empa-scientific-it/openbis-uploader/directory"
	"github.com/empa-scientific-it/openbis-uploader/openbis"
)

// Enables DEBUG log messages for the uploader's structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

// Starts an in-process Redis server for the duration of the test and returns
// a broker connected to it.
func NewBroker(t testing.TB) (*broker.Broker, *miniredis.Miniredis) {
	server := miniredis.RunT(t)
	b, err := broker.New(server.Addr(), "", 0)
	if err != nil {
		t.Fatalf("Couldn't connect to test Redis: %s", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, server
}

//--------------------
// LIMS Test Fixtures
//--------------------

// the object every seeded LIMS holds, and its collection
const (
	LimsTarget     = "/LAB/ICP/TARGET"
	LimsCollection = "/LAB/ICP/ENTRIES"
)

// Creates an in-memory LIMS in which the given user may log in, seeded with
// the LAB space, its ICP project, the ENTRIES collection holding the TARGET
// object and the ICP_MS_MEASUREMENT object type. Returns the LIMS and a
// session of the user.
func NewLims(t testing.TB, user, password string) (*openbis.Memory, *openbis.Session) {
	m := openbis.NewMemory()
	m.AddUser(user, password)
	ctx := context.Background()
	s, err := openbis.Login(ctx, m, user, password)
	if err != nil {
		t.Fatalf("Couldn't log into test LIMS: %s", err)
	}
	tx := openbis.NewTransaction()
	tx.Create(openbis.Entity{Kind: openbis.KindObjectType, Code: "ICP_MS_MEASUREMENT", Prefix: "ICP"})
	tx.Create(openbis.NewSpace("LAB", ""))
	tx.Create(openbis.NewProject("LAB", "ICP", ""))
	tx.Create(openbis.NewCollection("/LAB/ICP", "ENTRIES", "COLLECTION"))
	tx.Create(openbis.NewObject(LimsCollection, "TARGET", "ENTRY", nil))
	if _, err = tx.Commit(ctx, s); err != nil {
		t.Fatalf("Couldn't seed test LIMS: %s", err)
	}
	return m, s
}

// Writes a zip archive as ICP-MS instruments do: the batch log, ISO-8859-1
// encoded, and a sample directory below a batch directory. Returns the
// archive's path.
func WriteBatchArchive(t testing.TB, dir, name, batchLog string) string {
	encoded, err := charmap.ISO8859_1.NewEncoder().String(batchLog)
	if err != nil {
		t.Fatalf("Couldn't encode batch log: %s", err)
	}
	archive := filepath.Join(dir, name)
	f, err := os.Create(archive)
	if err != nil {
		t.Fatalf("Couldn't create archive: %s", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	w, err := zw.Create("230201_batch.b/BatchLog.csv")
	if err != nil {
		t.Fatalf("Couldn't add batch log: %s", err)
	}
	w.Write([]byte(encoded))
	w, _ = zw.Create("230201_batch.b/001SMPL.d/MSTS.xml")
	w.Write([]byte("<xml/>"))
	if err = zw.Close(); err != nil {
		t.Fatalf("Couldn't write archive: %s", err)
	}
	return archive
}

//--------------------------
// Directory Test Fixtures
//--------------------------

// a directory entry held by a Directory fixture
type DirectoryUser struct {
	Uid      string
	Password string
	Name     string
	Mail     string
	MemberOf []string
}

// This type is an in-memory LDAP directory. It hands out connections that
// satisfy directory.Conn.
type Directory struct {
	Base      string
	Principal string
	Password  string
	// set to true to make every dial fail
	Down bool

	mu    sync.Mutex
	users map[string]DirectoryUser
}

// creates an empty directory fixture rooted at base
func NewDirectory(base, principal, password string) *Directory {
	return &Directory{
		Base:      base,
		Principal: principal,
		Password:  password,
		users:     make(map[string]DirectoryUser),
	}
}

// adds (or replaces) a user
func (d *Directory) AddUser(user DirectoryUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.Uid] = user
}

// removes a user
func (d *Directory) RemoveUser(uid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, uid)
}

func (d *Directory) dn(uid string) string {
	return fmt.Sprintf("uid=%s,ou=users,%s", uid, d.Base)
}

// a dialer producing connections to this fixture
func (d *Directory) Dialer() directory.Dialer {
	return func(ctx context.Context) (directory.Conn, error) {
		if d.Down {
			return nil, &directory.UnavailableError{Message: "connection refused"}
		}
		return &directoryConn{directory: d}, nil
	}
}

// returns a directory.Directory using this fixture
func (d *Directory) Client() *directory.Directory {
	return directory.New(d.Dialer(), d.Principal, d.Password, d.Base,
		"(&(objectclass=inetOrgPerson)(uid=%s))")
}

var uidFilter = regexp.MustCompile(`\(uid=([^)]*)\)`)

type directoryConn struct {
	directory *Directory
	bound     string
}

func (c *directoryConn) Bind(username, password string) error {
	d := c.directory
	d.mu.Lock()
	defer d.mu.Unlock()
	if username == d.Principal && password == d.Password {
		c.bound = username
		return nil
	}
	for uid, user := range d.users {
		if d.dn(uid) == username && user.Password == password {
			c.bound = username
			return nil
		}
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
}

func (c *directoryConn) Search(request *ldap.SearchRequest) (*ldap.SearchResult, error) {
	d := c.directory
	if c.bound != d.Principal {
		return nil, ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("not bound"))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	result := &ldap.SearchResult{}
	match := uidFilter.FindStringSubmatch(request.Filter)
	if match == nil {
		return result, nil
	}
	if user, found := d.users[match[1]]; found {
		result.Entries = append(result.Entries, ldap.NewEntry(d.dn(user.Uid), map[string][]string{
			"uid":      {user.Uid},
			"cn":       {user.Name},
			"mail":     {user.Mail},
			"memberOf": user.MemberOf,
		}))
	}
	return result, nil
}

func (c *directoryConn) Close() error {
	return nil
}
