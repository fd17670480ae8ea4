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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/StalkR/hsts"
)

// the largest response body read from the LIMS for one call
var maxResponseSize int64 = 64 << 20

// returns the HTTP client used for LIMS calls. It honours the server's HSTS
// policy and follows no redirects; a redirect to plain HTTP is an error.
func newHttpClient(timeout time.Duration) http.Client {
	client := http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme == "http" {
				return &DowngradedRedirectError{
					Endpoint: fmt.Sprintf("%s%s", req.URL.Host, req.URL.Path),
				}
			}
			return http.ErrUseLastResponse
		},
	}
	client.Transport = hsts.New(client.Transport)
	return client
}

// posts body to the given path of the server; any status but 200 is an
// UnavailableError. The caller closes the response body.
func (r *RPC) post(ctx context.Context, target, contentType string, body io.Reader,
	length int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+target, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{URL: r.url, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &UnavailableError{URL: r.url, Message: resp.Status}
	}
	return resp, nil
}

// sends one JSON-RPC request and decodes the envelope of the answer
func (r *RPC) exchange(ctx context.Context, path string, request rpcRequest) (rpcResponse, error) {
	var response rpcResponse
	body, err := json.Marshal(request)
	if err != nil {
		return response, err
	}
	resp, err := r.post(ctx, path, "application/json", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return response, err
	}
	defer resp.Body.Close()
	limited := io.LimitReader(resp.Body, maxResponseSize)
	if err = json.NewDecoder(limited).Decode(&response); err != nil {
		return response, &UnavailableError{URL: r.url,
			Message: fmt.Sprintf("bad response to %s: %s", request.Method, err)}
	}
	return response, nil
}
