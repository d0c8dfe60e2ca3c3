// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package chttp

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	internal "github.com/go-kivik/sofa/internal"
)

const typeJSON = "application/json"

// endpoint resolves path against the server URL. path is already escaped, and
// may carry a query string, to which query is appended.
func (c *Client) endpoint(path string, query url.Values) (*url.URL, error) {
	rawPath, rawQuery, _ := strings.Cut(path, "?")
	rawPath = c.basePath + "/" + strings.TrimPrefix(rawPath, "/")
	unescaped, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, &internal.Error{Kind: internal.KindConfiguration, Err: err}
	}
	if encoded := query.Encode(); encoded != "" {
		if rawQuery != "" {
			rawQuery += "&"
		}
		rawQuery += encoded
	}
	u := *c.dsn
	u.Path = unescaped
	u.RawPath = rawPath
	u.RawQuery = rawQuery
	return &u, nil
}

// NewRequest returns a request for path on the server. The scheme and host
// are always those of the server URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader, opts *Options) (*http.Request, error) {
	if opts == nil {
		opts = &Options{}
	}
	u, err := c.endpoint(path, opts.Query)
	if err != nil {
		return nil, err
	}
	gzipped := false
	if body != nil && c.compress && !opts.NoGzip && !strings.HasSuffix(u.Path, "/_session") {
		if body, err = compress(body); err != nil {
			return nil, err
		}
		gzipped = true
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &internal.Error{Kind: internal.KindConfiguration, Err: err}
	}
	req.URL = u
	setHeaders(req, opts)
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	req.Header.Set("User-Agent", c.userAgent())
	return req, nil
}

// compress gzips body. /_session only accepts compressed bodies from CouchDB
// 3.2, so login requests are never compressed.
func compress(body io.Reader) (io.Reader, error) {
	if closer, ok := body.(io.Closer); ok {
		defer closer.Close() // nolint:errcheck
	}
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	if _, err := io.Copy(gz, body); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

func setHeaders(req *http.Request, opts *Options) {
	accept, contentType := typeJSON, typeJSON
	if opts.Accept != "" {
		accept = opts.Accept
	}
	if opts.ContentType != "" {
		contentType = opts.ContentType
	}
	if opts.FullCommit {
		req.Header.Set("X-Couch-Full-Commit", "true")
	}
	if opts.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", `"`+strings.Trim(opts.IfNoneMatch, `"`)+`"`)
	}
	if opts.ContentLength != 0 {
		req.ContentLength = opts.ContentLength
	}
	for k, v := range opts.Header {
		if _, ok := req.Header[k]; !ok {
			req.Header[k] = v
		}
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Content-Type", contentType)
}

// DoReq sends a request. Only failures to send the request, or to read the
// response headers, are returned as errors; an error status is left to the
// caller, as is closing the response body.
func (c *Client) DoReq(ctx context.Context, method, path string, opts *Options) (*http.Response, error) {
	if method == "" {
		return nil, errors.New("chttp: method required")
	}
	var body io.ReadCloser
	if opts != nil {
		body = opts.Body
		if opts.GetBody != nil {
			var err error
			if body, err = opts.GetBody(); err != nil {
				return nil, err
			}
		}
	}
	var reqBody io.Reader
	if body != nil {
		defer body.Close() // nolint: errcheck
		reqBody = body
	}
	req, err := c.NewRequest(ctx, method, path, reqBody, opts)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.GetBody != nil && req.Header.Get("Content-Encoding") == "" {
		req.GetBody = opts.GetBody
	}

	resp, err := c.Do(req)
	if err != nil {
		c.log.Debugf("%s %s: %s", method, req.URL.Path, err)
		return resp, &internal.Error{Kind: internal.KindTransport, Status: http.StatusBadGateway, Err: err}
	}
	c.log.Debugf("%s %s: %d", method, req.URL.Path, resp.StatusCode)
	return resp, nil
}

// DoError sends a request and checks the response status. It is meant for
// requests where only the status, or the headers, matter. The response body
// is always closed.
func (c *Client) DoError(ctx context.Context, method, path string, opts *Options) (*http.Response, error) {
	resp, err := c.DoReq(ctx, method, path, opts)
	if err != nil {
		return resp, err
	}
	defer CloseBody(resp.Body)
	return resp, ResponseError(resp)
}

// DoJSON sends a request, checks the response status, and decodes the
// response body into i.
func (c *Client) DoJSON(ctx context.Context, method, path string, opts *Options, i interface{}) error {
	resp, err := c.DoReq(ctx, method, path, opts)
	if err != nil {
		return err
	}
	defer CloseBody(resp.Body)
	if err := ResponseError(resp); err != nil {
		return err
	}
	return DecodeJSON(resp, i)
}
