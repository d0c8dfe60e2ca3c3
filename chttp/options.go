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
	"io"
	"net/http"
	"net/url"

	"github.com/go-kivik/sofa/log"
)

// Option is a client or request option. Apply is called with each possible
// target, and the option must ignore targets it does not recognize.
type Option interface {
	Apply(target interface{})
}

// Options are optional parameters which may be sent with a request.
type Options struct {
	// Accept sets the Accept header. Defaults to "application/json".
	Accept string

	// ContentType sets the Content-Type header. Defaults to
	// "application/json".
	ContentType string

	// ContentLength, if set, sets the ContentLength of the request.
	ContentLength int64

	// Body is the request body. It is ignored if GetBody is set.
	Body io.ReadCloser

	// GetBody returns the request body, and is called again when the body
	// must be re-sent, as on a redirect.
	GetBody func() (io.ReadCloser, error)

	// FullCommit sets the X-Couch-Full-Commit header.
	FullCommit bool

	// IfNoneMatch sets the If-None-Match header, quoting the value if
	// needed.
	IfNoneMatch string

	// Query is appended to any query string already in the request path.
	// No merging takes place.
	Query url.Values

	// Header holds extra request headers. They never replace the headers set
	// from the fields above.
	Header http.Header

	// NoGzip disables compression of this request's body.
	NoGzip bool
}

// NewOptions applies the request-level options to a new *Options.
func NewOptions(options ...Option) *Options {
	o := &Options{}
	for _, opt := range options {
		if opt != nil {
			opt.Apply(o)
		}
	}
	return o
}

// clientOption configures a *Client.
type clientOption func(*Client)

func (fn clientOption) Apply(target interface{}) {
	if c, ok := target.(*Client); ok {
		fn(c)
	}
}

// requestOption configures the *Options of a single request.
type requestOption func(*Options)

func (fn requestOption) Apply(target interface{}) {
	if o, ok := target.(*Options); ok {
		fn(o)
	}
}

// OptionRequestCompression gzips request bodies. Requests to /_session are
// never compressed.
func OptionRequestCompression() Option {
	return clientOption(func(c *Client) { c.compress = true })
}

// OptionUserAgent appends ua to the User-Agent header sent on all requests.
func OptionUserAgent(ua string) Option {
	return clientOption(func(c *Client) { c.UserAgents = append(c.UserAgents, ua) })
}

// OptionLogger sets the logger used for request tracing at debug level. A
// nil logger is ignored.
func OptionLogger(l log.Logger) Option {
	return clientOption(func(c *Client) {
		if l != nil {
			c.log = l
		}
	})
}

// OptionFullCommit sets the X-Couch-Full-Commit: true header.
func OptionFullCommit() Option {
	return requestOption(func(o *Options) { o.FullCommit = true })
}

// OptionIfNoneMatch sets the If-None-Match header.
func OptionIfNoneMatch(etag string) Option {
	return requestOption(func(o *Options) { o.IfNoneMatch = etag })
}

// CookieAuth logs in with [cookie authentication], which is also what
// credentials in the server URL select.
//
// [cookie authentication]: https://docs.couchdb.org/en/stable/api/server/authn.html#cookie-authentication
func CookieAuth(username, password string) Option {
	return &cookieAuth{Username: username, Password: password}
}

// BasicAuth sends HTTP Basic Auth credentials with every request.
func BasicAuth(username, password string) Option {
	return newBasicAuth(username, password)
}

// JWTAuth sends token as a bearer token with every request.
func JWTAuth(token string) Option {
	return newJWTAuth(token)
}
