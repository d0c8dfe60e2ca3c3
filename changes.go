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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-kivik/sofa/chttp"
	internal "github.com/go-kivik/sofa/internal"
	"github.com/go-kivik/sofa/log"
)

// ChangeRev is a single revision listed in a change event.
type ChangeRev struct {
	Rev string `json:"rev"`
}

// ChangeEvent is a single entry of a changes feed. The final entry of a
// continuous feed carries only LastSeq.
type ChangeEvent struct {
	Seq     SequenceID      `json:"seq"`
	ID      string          `json:"id"`
	Changes []ChangeRev     `json:"changes"`
	Deleted bool            `json:"deleted"`
	Doc     json.RawMessage `json:"doc,omitempty"`
	LastSeq SequenceID      `json:"last_seq"`
	Pending int64           `json:"pending"`
}

// IsLastSeq reports whether e is the terminal entry of a feed.
func (e *ChangeEvent) IsLastSeq() bool {
	return e.LastSeq != ""
}

// Revs returns the revisions listed in the event.
func (e *ChangeEvent) Revs() []string {
	revs := make([]string, 0, len(e.Changes))
	for _, c := range e.Changes {
		revs = append(revs, c.Rev)
	}
	return revs
}

// ScanDoc unmarshals the document included with the event into dest.
func (e *ChangeEvent) ScanDoc(dest interface{}) error {
	if len(e.Doc) == 0 {
		return internal.NewError(internal.KindNotFound, "change has no document")
	}
	return json.Unmarshal(e.Doc, dest)
}

// ChangesResponse is the result of a normal or longpoll changes request.
type ChangesResponse struct {
	Results []ChangeEvent `json:"results"`
	LastSeq SequenceID    `json:"last_seq"`
	Pending int64         `json:"pending"`
}

// changesRequest builds a _changes request from the options. A selector or
// doc_ids option is sent in a POST body, and implies the matching filter.
func changesRequest(p map[string]interface{}) (string, *chttp.Options, error) {
	body := map[string]interface{}{}
	if ids, ok := p["doc_ids"]; ok {
		delete(p, "doc_ids")
		body["doc_ids"] = ids
		if _, ok := p["filter"]; !ok {
			p["filter"] = "_doc_ids"
		}
	}
	if selector, ok := p["selector"]; ok {
		delete(p, "selector")
		body["selector"] = selector
		if _, ok := p["filter"]; !ok {
			p["filter"] = "_selector"
		}
	}
	query, err := EncodeViewOptions(p)
	if err != nil {
		return "", nil, err
	}
	opts := &chttp.Options{Query: query}
	if len(body) == 0 {
		return http.MethodGet, opts, nil
	}
	opts.GetBody = chttp.BodyEncoder(body)
	opts.Header = http.Header{chttp.HeaderIdempotencyKey: []string{}}
	return http.MethodPost, opts, nil
}

// Changes returns the database changes, as a single response. The feed
// option may be "normal" (the default) or "longpoll". For a continuous feed,
// use [DB.ChangesFeed].
func (db *DB) Changes(ctx context.Context, opts ...Option) (*ChangesResponse, error) {
	p := params(opts)
	switch feed := p["feed"]; feed {
	case nil, "normal", "longpoll":
	case "continuous":
		return nil, configError("continuous feeds must be read with ChangesFeed")
	default:
		return nil, configError("unsupported feed type %v", feed)
	}
	method, reqOpts, err := changesRequest(p)
	if err != nil {
		return nil, err
	}
	var result ChangesResponse
	if err := db.client.client.DoJSON(ctx, method, db.path("_changes"), reqOpts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChangesFeed is a continuous changes feed. The response body is held open
// until the server sends the last_seq entry, an error occurs, or Close is
// called.
type ChangesFeed struct {
	body   io.ReadCloser
	r      *bufio.Reader
	log    log.Logger
	once   sync.Once
	done   bool
	change ChangeEvent
	err    error
}

// ChangesFeed opens a continuous changes feed. Heartbeats, enabled with the
// heartbeat option, are consumed silently. The caller must call Close if it
// stops reading before Next returns false.
func (db *DB) ChangesFeed(ctx context.Context, opts ...Option) (*ChangesFeed, error) {
	p := params(opts)
	if feed, ok := p["feed"]; ok && feed != "continuous" {
		return nil, configError("ChangesFeed reads only continuous feeds, not %v", feed)
	}
	p["feed"] = "continuous"
	method, reqOpts, err := changesRequest(p)
	if err != nil {
		return nil, err
	}
	resp, err := db.client.client.DoReq(ctx, method, db.path("_changes"), reqOpts)
	if err != nil {
		return nil, err
	}
	if err := chttp.ResponseError(resp); err != nil {
		return nil, err
	}
	return &ChangesFeed{
		body: resp.Body,
		r:    bufio.NewReader(resp.Body),
		log:  db.client.log,
	}, nil
}

// Next reads the next change from the feed. It returns false at the end of
// the feed, or when an error occurs. The last_seq entry is returned like any
// other, after which the rest of the response is discarded.
func (f *ChangesFeed) Next() bool {
	if f.done {
		return false
	}
	for {
		line, err := f.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var change ChangeEvent
			if jerr := json.Unmarshal(line, &change); jerr != nil {
				f.err = &internal.Error{Kind: internal.KindMalformedResponse, Status: http.StatusBadGateway, Name: "json", Err: jerr}
				_ = f.Close()
				return false
			}
			f.change = change
			if change.IsLastSeq() {
				f.finish()
			}
			return true
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				f.err = &internal.Error{Kind: internal.KindTransport, Status: http.StatusBadGateway, Err: err}
			}
			_ = f.Close()
			return false
		}
		f.log.Debug("changes feed heartbeat")
	}
}

// finish discards the remainder of the response, so that the connection
// may be reused, and closes it.
func (f *ChangesFeed) finish() {
	n, _ := io.Copy(io.Discard, f.r)
	f.log.Debugf("changes feed complete at %s, discarded %d bytes", f.change.LastSeq, n)
	_ = f.Close()
}

// Change returns the current change.
func (f *ChangesFeed) Change() ChangeEvent {
	return f.change
}

// Err returns the error, if any, that ended the feed.
func (f *ChangesFeed) Err() error {
	return f.err
}

// Close closes the feed and releases the connection. It is safe to call more
// than once.
func (f *ChangesFeed) Close() error {
	var err error
	f.once.Do(func() {
		f.done = true
		err = f.body.Close()
	})
	return err
}
