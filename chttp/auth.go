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
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SessionCookieName is the name of the CouchDB session cookie.
const SessionCookieName = "AuthSession"

// authenticator installs an authentication scheme on a client. Options which
// are also authenticators replace the target *authenticator with a fresh copy
// of themselves, so that one option value may be shared between clients.
type authenticator interface {
	Authenticate(*Client) error
}

// wrapTransport returns the client's transport, replacing it with rt.
func wrapTransport(c *Client, rt http.RoundTripper) http.RoundTripper {
	next := c.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	c.Transport = rt
	return next
}

// headerAuth decorates every request with credentials, as Basic or Bearer
// authentication do.
type headerAuth struct {
	label    string
	decorate func(*http.Request)

	next http.RoundTripper
}

var (
	_ authenticator = &headerAuth{}
	_ Option        = (*headerAuth)(nil)
)

func (a *headerAuth) Apply(target interface{}) {
	if auth, ok := target.(*authenticator); ok {
		*auth = &headerAuth{label: a.label, decorate: a.decorate}
	}
}

func (a *headerAuth) String() string { return a.label }

func (a *headerAuth) Authenticate(c *Client) error {
	a.next = wrapTransport(c, a)
	return nil
}

func (a *headerAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	a.decorate(req)
	return a.next.RoundTrip(req)
}

func mask(secret string, visible int) string {
	if len(secret) <= visible {
		return strings.Repeat("*", len(secret))
	}
	return secret[:visible] + strings.Repeat("*", len(secret)-visible)
}

func newBasicAuth(username, password string) *headerAuth {
	return &headerAuth{
		label: fmt.Sprintf("[BasicAuth{user:%s,pass:%s}]", username, mask(password, 0)),
		decorate: func(req *http.Request) {
			req.SetBasicAuth(username, password)
		},
	}
}

func newJWTAuth(token string) *headerAuth {
	return &headerAuth{
		label: fmt.Sprintf("[JWTAuth{token:%s}]", mask(token, 3)), //nolint:gomnd
		decorate: func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		},
	}
}

// cookieAuth logs in lazily, on the first request, and again whenever the
// session cookie is missing, about to expire, or rejected with a 401.
type cookieAuth struct {
	Username string `json:"name"`
	Password string `json:"password"`

	client *Client
	next   http.RoundTripper
}

var (
	_ authenticator = &cookieAuth{}
	_ Option        = (*cookieAuth)(nil)
)

func (a *cookieAuth) Apply(target interface{}) {
	if auth, ok := target.(*authenticator); ok {
		*auth = &cookieAuth{Username: a.Username, Password: a.Password}
	}
}

func (a *cookieAuth) String() string {
	return fmt.Sprintf("[CookieAuth{user:%s,pass:%s}]", a.Username, mask(a.Password, 0))
}

func (a *cookieAuth) Authenticate(c *Client) error {
	a.client = c
	c.setCookieJar()
	a.next = wrapTransport(c, a)
	return nil
}

// sessionValid reports whether req can be sent without logging in first.
func (a *cookieAuth) sessionValid(req *http.Request) bool {
	if _, err := req.Cookie(SessionCookieName); err == nil {
		return true
	}
	cookie := a.client.sessionCookie()
	if cookie == nil {
		return false
	}
	// Without an expiry, the session is used until the server rejects it.
	return cookie.Expires.IsZero() || cookie.Expires.After(time.Now().Add(time.Minute))
}

// authInProgressKey marks requests which must not trigger a login, which
// are the login request itself and explicit session calls.
type authInProgressKey struct{}

func (a *cookieAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := a.login(req); err != nil {
		return nil, err
	}
	resp, err := a.next.RoundTrip(req)
	if err == nil && resp.StatusCode == http.StatusUnauthorized {
		a.client.expireSession()
	}
	return resp, err
}

func (a *cookieAuth) login(req *http.Request) error {
	ctx := req.Context()
	if skip, _ := ctx.Value(authInProgressKey{}).(bool); skip || a.sessionValid(req) {
		return nil
	}
	a.client.authMU.Lock()
	defer a.client.authMU.Unlock()
	// Another request may have logged in while we waited for the lock.
	if cookie := a.client.sessionCookie(); cookie == nil {
		opts := &Options{
			GetBody: BodyEncoder(a),
			Header:  http.Header{HeaderIdempotencyKey: []string{}},
		}
		ctx = context.WithValue(ctx, authInProgressKey{}, true)
		if _, err := a.client.DoError(ctx, http.MethodPost, "/_session", opts); err != nil {
			return err
		}
	}
	if cookie := a.client.sessionCookie(); cookie != nil {
		req.AddCookie(cookie)
	}
	return nil
}
