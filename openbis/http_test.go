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
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func request(scheme, host string) *http.Request {
	return &http.Request{URL: &url.URL{Scheme: scheme, Host: host, Path: "/"}}
}

func TestHttpClientRefusesDowngrades(t *testing.T) {
	assert := assert.New(t)
	client := newHttpClient(5 * time.Second)
	assert.Equal(5*time.Second, client.Timeout)

	err := client.CheckRedirect(request("https", "redirect.com"),
		[]*http.Request{request("https", "openbis.empa.ch")})
	assert.Equal(http.ErrUseLastResponse, err)

	err = client.CheckRedirect(request("http", "redirect.com"),
		[]*http.Request{request("https", "openbis.empa.ch")})
	assert.IsType(&DowngradedRedirectError{}, err)
	assert.Equal("redirect.com/", err.(*DowngradedRedirectError).Endpoint)
}

func TestExchangeSendsJSON(t *testing.T) {
	assert := assert.New(t)
	var contentType, accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType, accept = r.Header.Get("Content-Type"), r.Header.Get("Accept")
		w.Write([]byte(`{"id":"1","jsonrpc":"2.0","result":true}`))
	}))
	t.Cleanup(server.Close)
	r := NewRPC(server.URL, 5*time.Second)

	response, err := r.exchange(context.Background(), applicationServerPath,
		rpcRequest{Id: "1", JsonRpc: "2.0", Method: "isSessionActive", Params: []any{"s"}})
	assert.Nil(err)
	assert.Equal("true", string(response.Result))
	assert.Equal("application/json", contentType)
	assert.Equal("application/json", accept)
}

func TestExchangeBoundsResponses(t *testing.T) {
	assert := assert.New(t)
	saved := maxResponseSize
	maxResponseSize = 64
	t.Cleanup(func() { maxResponseSize = saved })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"1","jsonrpc":"2.0","result":"` + strings.Repeat("x", 1024) + `"}`))
	}))
	t.Cleanup(server.Close)
	r := NewRPC(server.URL, 5*time.Second)

	_, err := r.exchange(context.Background(), applicationServerPath,
		rpcRequest{Id: "1", JsonRpc: "2.0", Method: "getSpaces"})
	var unavailable *UnavailableError
	assert.True(errors.As(err, &unavailable))
	assert.Contains(unavailable.Message, "getSpaces")
}

func TestPostRejectsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	r := NewRPC(server.URL, 5*time.Second)

	_, err := r.post(context.Background(), "/", "text/plain", strings.NewReader("x"), 1)
	var unavailable *UnavailableError
	assert.True(t, errors.As(err, &unavailable))
	assert.Contains(t, unavailable.Message, "503")
}
