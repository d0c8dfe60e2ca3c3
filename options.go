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

package sofa

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-kivik/sofa/chttp"
	"github.com/go-kivik/sofa/log"
)

// Option is a client, request or result set option. Each option applies
// itself to the targets it recognizes, and ignores the rest.
type Option = chttp.Option

// Params is a collection of query parameters, sent to the server with a
// request. Values are encoded with the rules of [EncodeViewOptions].
type Params map[string]interface{}

var _ Option = Params(nil)

// Param returns a single query parameter.
func Param(key string, value interface{}) Params {
	return Params{key: value}
}

// Apply applies p to target. The following target types are supported:
//
//   - map[string]interface{}
//   - *url.Values
func (p Params) Apply(target interface{}) {
	switch t := target.(type) {
	case map[string]interface{}:
		for k, v := range p {
			t[k] = v
		}
	case *url.Values:
		for key, i := range p {
			var values []string
			switch v := i.(type) {
			case string:
				values = []string{v}
			case []string:
				values = v
			case bool:
				values = []string{fmt.Sprintf("%t", v)}
			case int, uint, uint8, uint16, uint32, uint64, int8, int16, int32, int64:
				values = []string{fmt.Sprintf("%d", v)}
			}
			for _, value := range values {
				t.Add(key, value)
			}
		}
	}
}

// params collects all Params from opts into a new map.
func params(opts []Option) map[string]interface{} {
	m := map[string]interface{}{}
	for _, opt := range opts {
		if opt != nil {
			opt.Apply(m)
		}
	}
	return m
}

// requestOptions collects the request-level options, such as headers, and
// encodes the query parameters in opts.
func requestOptions(opts []Option) (*chttp.Options, error) {
	o := chttp.NewOptions(opts...)
	query, err := EncodeViewOptions(params(opts))
	if err != nil {
		return nil, err
	}
	o.Query = query
	return o, nil
}

type optionHTTPClient struct {
	*http.Client
}

func (o optionHTTPClient) Apply(target interface{}) {
	if client, ok := target.(*http.Client); ok && o.Client != nil {
		*client = *o.Client
	}
}

func (optionHTTPClient) String() string { return "[HTTPClient]" }

// OptionHTTPClient may be passed to [New] to provide the *http.Client used to
// talk to the server. The client is copied, so its Transport, Timeout and
// Jar are used, but changes made later to the original have no effect.
func OptionHTTPClient(client *http.Client) Option {
	return optionHTTPClient{Client: client}
}

// OptionLogger sets the logger used by the client. Requests, page fetches and
// change feed events are logged at debug level.
func OptionLogger(l log.Logger) Option {
	return chttp.OptionLogger(l)
}

// OptionUserAgent appends ua to the User-Agent header sent on all requests.
func OptionUserAgent(ua string) Option {
	return chttp.OptionUserAgent(ua)
}

// OptionRequestCompression enables gzip compression of request bodies.
func OptionRequestCompression() Option {
	return chttp.OptionRequestCompression()
}

// OptionFullCommit sets the X-Couch-Full-Commit header on a write request.
func OptionFullCommit() Option {
	return chttp.OptionFullCommit()
}

// OptionIfNoneMatch sets the If-None-Match header on a request.
func OptionIfNoneMatch(etag string) Option {
	return chttp.OptionIfNoneMatch(etag)
}

// BasicAuth authenticates every request with HTTP Basic Auth.
func BasicAuth(username, password string) Option {
	return chttp.BasicAuth(username, password)
}

// CookieAuth authenticates with a session cookie, which is requested on first
// use and renewed as it nears expiry. This is the default when credentials
// are included in the DSN.
func CookieAuth(username, password string) Option {
	return chttp.CookieAuth(username, password)
}

// JWTAuth authenticates every request with a JWT bearer token.
func JWTAuth(token string) Option {
	return chttp.JWTAuth(token)
}

// Limit sets the maximum number of rows or documents returned by a request.
// For queries, the limit is also the page size.
func Limit(n int) Option { return Param("limit", n) }

// Skip sets the number of rows to skip.
func Skip(n int) Option { return Param("skip", n) }

// IncludeDocs requests the full document with each view row.
func IncludeDocs() Option { return Param("include_docs", true) }

// Descending reverses the order of view rows.
func Descending() Option { return Param("descending", true) }

// Fields sets the fields returned by a query.
func Fields(fields ...string) Option { return Param("fields", fields) }

// Sort sets the sort order of a query.
func Sort(fields ...SortField) Option { return Param("sort", fields) }

// UseIndex instructs a query to use a specific index.
func UseIndex(index string) Option { return Param("use_index", index) }

// ReadQuorum sets the read quorum for a query.
func ReadQuorum(r int) Option { return Param("r", r) }

// Bookmark resumes a query from a bookmark returned by an earlier page.
func Bookmark(bookmark string) Option { return Param("bookmark", bookmark) }

// Stable requests that a query use the same replica of each shard.
func Stable(stable bool) Option { return Param("stable", stable) }

// Update controls whether a query waits for the index to be updated.
func Update(update bool) Option { return Param("update", update) }

// ExecutionStats requests execution statistics with a query response.
func ExecutionStats() Option { return Param("execution_stats", true) }

type rsConfig struct {
	autoPaginate bool
	wrap         func(Row) (interface{}, error)
}

func newRSConfig(opts []Option) rsConfig {
	cfg := rsConfig{autoPaginate: true}
	for _, opt := range opts {
		if opt != nil {
			opt.Apply(&cfg)
		}
	}
	return cfg
}

type autoPaginate bool

func (a autoPaginate) Apply(target interface{}) {
	if cfg, ok := target.(*rsConfig); ok {
		cfg.autoPaginate = bool(a)
	}
}

func (a autoPaginate) String() string { return fmt.Sprintf("[AutoPaginate:%t]", bool(a)) }

// AutoPaginate controls whether a [ResultSet] fetches further pages as the
// rows of the previous page are consumed. It is enabled by default.
func AutoPaginate(enabled bool) Option {
	return autoPaginate(enabled)
}

type wrapRows func(Row) (interface{}, error)

func (w wrapRows) Apply(target interface{}) {
	if cfg, ok := target.(*rsConfig); ok {
		cfg.wrap = w
	}
}

func (wrapRows) String() string { return "[WrapRows]" }

// WrapRows sets a function which converts each row as it is read. The result
// is available from the Item method of the result set. An error returned by
// fn stops iteration.
func WrapRows(fn func(Row) (interface{}, error)) Option {
	return wrapRows(fn)
}
