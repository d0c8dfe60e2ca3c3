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
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	internal "github.com/go-kivik/sofa/internal"
)

// EncodeBody returns i as a JSON request body. Strings, byte slices and
// json.RawMessage values are assumed to be JSON already, and are sent as-is.
// A value which cannot be marshaled is a configuration error.
func EncodeBody(i interface{}) (io.ReadCloser, error) {
	var body []byte
	switch t := i.(type) {
	case []byte:
		body = t
	case json.RawMessage:
		body = t
	case string:
		body = []byte(t)
	default:
		var err error
		if body, err = json.Marshal(i); err != nil {
			return nil, &internal.Error{Kind: internal.KindConfiguration, Err: err}
		}
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

// BodyEncoder returns a function which encodes i with [EncodeBody], suitable
// as [Options.GetBody], so that the body can be re-sent on redirects.
func BodyEncoder(i interface{}) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return EncodeBody(i)
	}
}

// DecodeJSON decodes the response body into i, then drains and closes the
// body. A body which is not valid JSON is a malformed response error.
func DecodeJSON(r *http.Response, i interface{}) error {
	defer CloseBody(r.Body)
	if err := json.NewDecoder(r.Body).Decode(i); err != nil {
		return &internal.Error{Kind: internal.KindMalformedResponse, Status: http.StatusBadGateway, Name: "json", Err: err}
	}
	return nil
}

// CloseBody drains and closes the body, so that the underlying connection can
// be reused. A nil body is ignored.
func CloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// ETag returns the unquoted ETag header of resp, if there is one.
func ETag(resp *http.Response) (string, bool) {
	if resp == nil {
		return "", false
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", false
	}
	return strings.Trim(etag, `"`), true
}

const (
	prefixDesign = "_design/"
	prefixLocal  = "_local/"
)

// EncodeDocID escapes a document ID for use in a URL path. The _design/ and
// _local/ prefixes are kept as they are. Spaces are sent as %20 rather than
// +, which CouchDB would read literally (apache/couchdb#3565).
func EncodeDocID(docID string) string {
	var prefix string
	switch {
	case strings.HasPrefix(docID, prefixDesign):
		prefix = prefixDesign
	case strings.HasPrefix(docID, prefixLocal):
		prefix = prefixLocal
	}
	return prefix + strings.ReplaceAll(url.QueryEscape(docID[len(prefix):]), "+", "%20")
}
