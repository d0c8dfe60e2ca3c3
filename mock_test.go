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
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-kivik/sofa/couchtest"
)

type customTransport func(*http.Request) (*http.Response, error)

var _ http.RoundTripper = customTransport(nil)

func (c customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return c(req)
}

func newCustomClient(t *testing.T, fn func(*http.Request) (*http.Response, error)) *Client {
	t.Helper()
	c, err := New("http://example.com/", OptionHTTPClient(&http.Client{
		Transport: customTransport(fn),
	}))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func newTestClient(t *testing.T, resp *http.Response, err error) *Client {
	t.Helper()
	return newCustomClient(t, func(_ *http.Request) (*http.Response, error) {
		return resp, err
	})
}

// jsonResponse returns a response with the given status and JSON body.
func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       Body(body),
	}
}

func Body(str string) io.ReadCloser {
	if !strings.HasSuffix(str, "\n") {
		str += "\n"
	}
	return io.NopCloser(strings.NewReader(str))
}

// newServer starts an in-memory server, and returns it with a client
// connected to it.
func newServer(t *testing.T, options ...couchtest.Option) (*couchtest.Server, *Client) {
	t.Helper()
	s, ts := couchtest.Start(t, options...)
	c, err := New(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	return s, c
}
