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
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-kivik/sofa/chttp"
	internal "github.com/go-kivik/sofa/internal"
)

// DesignResponse is the output of a show, list or update function.
type DesignResponse struct {
	Status      int
	Header      http.Header
	ContentType string
	Body        []byte
}

func designPath(ddoc, kind, name string) string {
	ddoc = strings.TrimPrefix(ddoc, "_design/")
	return "_design/" + url.PathEscape(ddoc) + "/" + kind + "/" + url.PathEscape(name)
}

func (db *DB) design(ctx context.Context, method, path string, body interface{}, opts []Option) (*DesignResponse, error) {
	reqOpts, err := requestOptions(opts)
	if err != nil {
		return nil, err
	}
	reqOpts.Accept = "*/*"
	if body != nil {
		reqOpts.GetBody = chttp.BodyEncoder(body)
	}
	resp, err := db.client.client.DoReq(ctx, method, db.path(path), reqOpts)
	if err != nil {
		return nil, err
	}
	defer chttp.CloseBody(resp.Body)
	if err := chttp.ResponseError(resp); err != nil {
		return nil, err
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &internal.Error{Kind: internal.KindTransport, Status: http.StatusBadGateway, Err: err}
	}
	return &DesignResponse{
		Status:      resp.StatusCode,
		Header:      resp.Header,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        content,
	}, nil
}

// Show calls a show function. docID may be empty.
func (db *DB) Show(ctx context.Context, ddoc, show, docID string, opts ...Option) (*DesignResponse, error) {
	if ddoc == "" || show == "" {
		return nil, missingArg("ddoc and show")
	}
	path := designPath(ddoc, "_show", show)
	if docID != "" {
		path += "/" + chttp.EncodeDocID(docID)
	}
	return db.design(ctx, http.MethodGet, path, nil, opts)
}

// List calls a list function on a view. The view may be in the same design
// document ("view") or another one ("ddoc/view"). View options, such as
// [Limit], may be passed in opts.
func (db *DB) List(ctx context.Context, ddoc, list, view string, opts ...Option) (*DesignResponse, error) {
	if ddoc == "" || list == "" || view == "" {
		return nil, missingArg("ddoc, list and view")
	}
	path := designPath(ddoc, "_list", list)
	for _, part := range strings.SplitN(view, "/", 2) { // nolint:gomnd
		path += "/" + url.PathEscape(part)
	}
	return db.design(ctx, http.MethodGet, path, nil, opts)
}

// UpdateHandler calls an update function. With an empty docID the request is
// a POST, otherwise a PUT to the document.
func (db *DB) UpdateHandler(ctx context.Context, ddoc, handler, docID string, body interface{}, opts ...Option) (*DesignResponse, error) {
	if ddoc == "" || handler == "" {
		return nil, missingArg("ddoc and handler")
	}
	path := designPath(ddoc, "_update", handler)
	method := http.MethodPost
	if docID != "" {
		path += "/" + chttp.EncodeDocID(docID)
		method = http.MethodPut
	}
	return db.design(ctx, method, path, body, opts)
}
