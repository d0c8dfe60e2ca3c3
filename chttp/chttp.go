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

// Package chttp is the HTTP transport used to talk to CouchDB. It resolves
// request paths against the server URL, applies authentication, and turns
// error responses into classified errors.
package chttp

import (
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"

	internal "github.com/go-kivik/sofa/internal"
	"github.com/go-kivik/sofa/log"
)

// The default UserAgent values
const (
	UserAgent = "sofa chttp"
	Version   = "1.0.0"
)

// HeaderIdempotencyKey is used by the Go HTTP client to decide whether a
// request may be retried. Setting it, even to an empty value, marks POST
// requests as idempotent.
const HeaderIdempotencyKey = "Idempotency-Key"

// Client is a connection to a single CouchDB server. It embeds the
// *http.Client which carries the requests.
type Client struct {
	// UserAgents are appended to the User-Agent header, as product/version
	// pairs.
	UserAgents []string

	*http.Client

	rawDSN   string
	dsn      *url.URL
	basePath string
	auth     authenticator
	authMU   sync.Mutex
	log      log.Logger

	compress bool
}

// New returns a client for the server at dsn. Credentials in the URL select
// cookie authentication; pass [BasicAuth] or [JWTAuth] without URL
// credentials for the other schemes. A nil client means a new *http.Client.
func New(client *http.Client, dsn string, options ...Option) (*Client, error) {
	dsnURL, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{}
	}
	c := &Client{
		Client:   client,
		dsn:      dsnURL,
		basePath: strings.TrimSuffix(dsnURL.Path, "/"),
		rawDSN:   dsn,
		log:      log.NewNil(),
	}
	var auth authenticator
	if user := dsnURL.User; user != nil {
		password, _ := user.Password()
		auth = &cookieAuth{Username: user.Username(), Password: password}
		dsnURL.User = nil
	}
	for _, opt := range options {
		if opt != nil {
			opt.Apply(c)
			opt.Apply(&auth)
		}
	}
	if auth != nil {
		if err := auth.Authenticate(c); err != nil {
			return nil, err
		}
		c.auth = auth
	}
	return c, nil
}

// parseDSN parses the server URL. A missing scheme means http, and a missing
// path means the server root.
func parseDSN(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, internal.NewError(internal.KindConfiguration, "no URL specified")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "http://" + dsn
	}
	dsnURL, err := url.Parse(dsn)
	if err != nil {
		return nil, &internal.Error{Kind: internal.KindConfiguration, Err: err}
	}
	switch dsnURL.Scheme {
	case "http", "https":
	default:
		return nil, internal.Errorf(internal.KindConfiguration, "unsupported URL scheme %q", dsnURL.Scheme)
	}
	if dsnURL.Path == "" {
		dsnURL.Path = "/"
	}
	return dsnURL, nil
}

// DSN returns the DSN passed to New, credentials included.
func (c *Client) DSN() string {
	return c.rawDSN
}

// URL returns the parsed server URL, without credentials.
func (c *Client) URL() *url.URL {
	u := *c.dsn
	return &u
}

// Logger returns the logger configured for the client.
func (c *Client) Logger() log.Logger {
	return c.log
}

func (c *Client) userAgent() string {
	agents := make([]string, 0, len(c.UserAgents)+2) //nolint:gomnd
	agents = append(agents,
		fmt.Sprintf("%s/%s (Language=%s; Platform=%s/%s)", UserAgent, Version, runtime.Version(), runtime.GOARCH, runtime.GOOS),
		"sofa/"+Version,
	)
	return strings.Join(append(agents, c.UserAgents...), " ")
}
