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
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/ajg/form"
	"golang.org/x/net/publicsuffix"

	internal "github.com/go-kivik/sofa/internal"
)

const typeForm = "application/x-www-form-urlencoded"

type loginForm struct {
	Name     string `form:"name"`
	Password string `form:"password"`
}

// Login establishes a cookie session with the server. The credentials are
// posted as a form, the way browsers log in to CouchDB, and the resulting
// session cookie is stored in the client's cookie jar, which is created if
// necessary.
func (c *Client) Login(ctx context.Context, name, password string) error {
	body, err := form.EncodeToString(loginForm{Name: name, Password: password})
	if err != nil {
		return &internal.Error{Kind: internal.KindConfiguration, Err: err}
	}
	c.setCookieJar()
	opts := &Options{
		ContentType: typeForm,
		NoGzip:      true,
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
		Header: http.Header{
			HeaderIdempotencyKey: []string{},
		},
	}
	ctx = context.WithValue(ctx, authInProgressKey{}, true)
	_, err = c.DoError(ctx, http.MethodPost, "/_session", opts)
	return err
}

// Logout deletes the current session, and forgets the session cookie.
func (c *Client) Logout(ctx context.Context) error {
	ctx = context.WithValue(ctx, authInProgressKey{}, true)
	_, err := c.DoError(ctx, http.MethodDelete, "/_session", nil)
	c.expireSession()
	return err
}

// SessionToken returns the value of the current session cookie, or an empty
// string if there is no session.
func (c *Client) SessionToken() string {
	if cookie := c.sessionCookie(); cookie != nil {
		return cookie.Value
	}
	return ""
}

func (c *Client) sessionCookie() *http.Cookie {
	if c.Jar == nil {
		return nil
	}
	for _, cookie := range c.Jar.Cookies(c.dsn) {
		if cookie.Name == SessionCookieName {
			return cookie
		}
	}
	return nil
}

// expireSession replaces the session cookie with one which expired
// yesterday, so that the jar drops it.
func (c *Client) expireSession() {
	if cookie := c.sessionCookie(); cookie != nil {
		cookie.Expires = time.Now().AddDate(0, 0, -1)
		c.Jar.SetCookies(c.dsn, []*http.Cookie{cookie})
	}
}

// setCookieJar installs a cookie jar, unless the *http.Client already has
// one.
func (c *Client) setCookieJar() {
	if c.Jar != nil {
		return
	}
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	c.Jar = jar
}
