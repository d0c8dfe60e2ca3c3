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
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-kivik/sofa/chttp"
	internal "github.com/go-kivik/sofa/internal"
)

// SequenceID is a CouchDB update sequence. CouchDB 1.x uses integers, later
// versions use opaque strings; both decode to a SequenceID.
type SequenceID string

// UnmarshalJSON satisfies the [encoding/json.Unmarshaler] interface.
func (id *SequenceID) UnmarshalJSON(data []byte) error {
	sid := SequenceID(bytes.Trim(data, `"`))
	if sid == "null" {
		sid = ""
	}
	*id = sid
	return nil
}

// Document is a JSON document, decoded as a map.
type Document map[string]interface{}

// ID returns the document's _id, or an empty string.
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Rev returns the document's _rev, or an empty string.
func (d Document) Rev() string {
	rev, _ := d["_rev"].(string)
	return rev
}

// Row is a single result row from a view or query.
type Row struct {
	// ID is the document ID. It is empty for reduce rows.
	ID string `json:"id,omitempty"`
	// Key is the raw JSON row key.
	Key json.RawMessage `json:"key,omitempty"`
	// Value is the raw JSON row value.
	Value json.RawMessage `json:"value,omitempty"`
	// Error is set when the document for a requested key could not be
	// retrieved, as with a missing key in a keys request.
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
	// Doc is the raw JSON document, when requested with include_docs, or for
	// query results.
	Doc json.RawMessage `json:"doc,omitempty"`
}

// Err returns the row's error, or nil.
func (r Row) Err() error {
	if r.Error == "" {
		return nil
	}
	return internal.FromName(r.Error, r.Reason)
}

// ScanKey unmarshals the row key into dest.
func (r Row) ScanKey(dest interface{}) error {
	return scan(r.Key, dest)
}

// ScanValue unmarshals the row value into dest.
func (r Row) ScanValue(dest interface{}) error {
	if err := r.Err(); err != nil {
		return err
	}
	return scan(r.Value, dest)
}

// ScanDoc unmarshals the row document into dest. It returns the row error
// if the row has one, and a not found error if the row has no document.
func (r Row) ScanDoc(dest interface{}) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Doc) == 0 || string(r.Doc) == "null" {
		return internal.NewError(internal.KindNotFound, "row has no document")
	}
	return json.Unmarshal(r.Doc, dest)
}

func scan(raw json.RawMessage, dest interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return json.Unmarshal(raw, dest)
}

// Page is the result of a single view or query request.
type Page struct {
	Rows []Row
	// Bookmark continues a query from the end of this page.
	Bookmark string
	// TotalRows is the number of rows in the view, or nil if the server did
	// not report it.
	TotalRows *int64
	Offset    int64
	UpdateSeq SequenceID
	Warning   string
	// ExecutionStats is set when a query requested execution_stats.
	ExecutionStats map[string]interface{}
}

type pageResponse struct {
	Rows           []Row                  `json:"rows"`
	Docs           []json.RawMessage      `json:"docs"`
	Bookmark       string                 `json:"bookmark"`
	TotalRows      *int64                 `json:"total_rows"`
	Offset         int64                  `json:"offset"`
	UpdateSeq      SequenceID             `json:"update_seq"`
	Warning        string                 `json:"warning"`
	ExecutionStats map[string]interface{} `json:"execution_stats"`
}

func (r *pageResponse) page() (*Page, error) {
	p := &Page{
		Rows:           r.Rows,
		Bookmark:       r.Bookmark,
		TotalRows:      r.TotalRows,
		Offset:         r.Offset,
		UpdateSeq:      r.UpdateSeq,
		Warning:        r.Warning,
		ExecutionStats: r.ExecutionStats,
	}
	for _, doc := range r.Docs {
		var meta struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(doc, &meta); err != nil {
			return nil, &internal.Error{Kind: internal.KindMalformedResponse, Status: http.StatusBadGateway, Name: "json", Err: err}
		}
		p.Rows = append(p.Rows, Row{ID: meta.ID, Doc: doc})
	}
	return p, nil
}

// fetchViewPage requests one page of view rows. If opts contains keys, they
// are sent in a POST body, and the remaining options as query parameters.
func (c *Client) fetchViewPage(ctx context.Context, path string, opts map[string]interface{}) (*Page, error) {
	query := make(map[string]interface{}, len(opts))
	for k, v := range opts {
		query[k] = v
	}
	keys := query["keys"]
	delete(query, "keys")
	values, err := EncodeViewOptions(query)
	if err != nil {
		return nil, err
	}
	method := http.MethodGet
	reqOpts := &chttp.Options{Query: values}
	if keys != nil {
		method = http.MethodPost
		reqOpts.GetBody = chttp.BodyEncoder(map[string]interface{}{"keys": keys})
		reqOpts.Header = http.Header{chttp.HeaderIdempotencyKey: []string{}}
	}
	return c.fetchPage(ctx, method, path, reqOpts)
}

// fetchFindPage requests one page of query results.
func (c *Client) fetchFindPage(ctx context.Context, path string, q *Query) (*Page, error) {
	reqOpts := &chttp.Options{
		GetBody: chttp.BodyEncoder(q),
		Header:  http.Header{chttp.HeaderIdempotencyKey: []string{}},
	}
	return c.fetchPage(ctx, http.MethodPost, path, reqOpts)
}

func (c *Client) fetchPage(ctx context.Context, method, path string, opts *chttp.Options) (*Page, error) {
	var resp pageResponse
	if err := c.client.DoJSON(ctx, method, path, opts, &resp); err != nil {
		return nil, err
	}
	page, err := resp.page()
	if err != nil {
		return nil, err
	}
	c.log.Debugf("fetched page of %d rows from %s (bookmark %q)", len(page.Rows), path, page.Bookmark)
	return page, nil
}
