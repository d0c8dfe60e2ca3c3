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
	"net/http"

	"github.com/go-kivik/sofa/chttp"
	internal "github.com/go-kivik/sofa/internal"
)

type docResult struct {
	OK  bool   `json:"ok"`
	ID  string `json:"id"`
	Rev string `json:"rev"`
}

// Get fetches the document with the given ID, and unmarshals it into dest.
// Options such as Param("rev", rev) or Param("conflicts", true) are passed
// as query parameters.
func (db *DB) Get(ctx context.Context, docID string, dest interface{}, opts ...Option) error {
	if docID == "" {
		return missingArg("docID")
	}
	reqOpts, err := requestOptions(opts)
	if err != nil {
		return err
	}
	return db.client.client.DoJSON(ctx, http.MethodGet, db.path(chttp.EncodeDocID(docID)), reqOpts, dest)
}

// Exists reports whether the document exists.
func (db *DB) Exists(ctx context.Context, docID string) (bool, error) {
	_, err := db.Rev(ctx, docID)
	if internal.KindOf(err) == internal.KindNotFound {
		return false, nil
	}
	return err == nil, err
}

// Rev returns the current revision of the document, with a HEAD request.
func (db *DB) Rev(ctx context.Context, docID string) (string, error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	resp, err := db.client.client.DoError(ctx, http.MethodHead, db.path(chttp.EncodeDocID(docID)), nil)
	if err != nil {
		return "", err
	}
	rev, ok := chttp.ETag(resp)
	if !ok {
		return "", internal.NewError(internal.KindMalformedResponse, "no ETag header in response")
	}
	return rev, nil
}

// Put creates or updates the document with the given ID, and returns the new
// revision. To update a document, doc must include the current _rev.
func (db *DB) Put(ctx context.Context, docID string, doc interface{}, opts ...Option) (string, error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	if doc == nil {
		return "", missingArg("doc")
	}
	reqOpts, err := requestOptions(opts)
	if err != nil {
		return "", err
	}
	reqOpts.GetBody = chttp.BodyEncoder(doc)
	var result docResult
	if err := db.client.client.DoJSON(ctx, http.MethodPut, db.path(chttp.EncodeDocID(docID)), reqOpts, &result); err != nil {
		return "", err
	}
	return result.Rev, nil
}

// CreateDoc creates a document with a server-assigned ID, unless doc has an
// _id, and returns the ID and revision.
func (db *DB) CreateDoc(ctx context.Context, doc interface{}, opts ...Option) (docID, rev string, err error) {
	if doc == nil {
		return "", "", missingArg("doc")
	}
	reqOpts, err := requestOptions(opts)
	if err != nil {
		return "", "", err
	}
	reqOpts.GetBody = chttp.BodyEncoder(doc)
	var result docResult
	if err := db.client.client.DoJSON(ctx, http.MethodPost, db.path(""), reqOpts, &result); err != nil {
		return "", "", err
	}
	return result.ID, result.Rev, nil
}

// Save stores doc, with PUT if it has an _id, or POST if not, and updates
// its _id and _rev fields to match the stored document.
func (db *DB) Save(ctx context.Context, doc Document, opts ...Option) error {
	if doc == nil {
		return missingArg("doc")
	}
	var (
		id, rev string
		err     error
	)
	if id = doc.ID(); id != "" {
		rev, err = db.Put(ctx, id, doc, opts...)
	} else {
		id, rev, err = db.CreateDoc(ctx, doc, opts...)
	}
	if err != nil {
		return err
	}
	doc["_id"] = id
	doc["_rev"] = rev
	return nil
}

// Delete marks the document as deleted, and returns the new revision. If rev
// is empty, the current revision is looked up first.
func (db *DB) Delete(ctx context.Context, docID, rev string) (string, error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	if rev == "" {
		var err error
		if rev, err = db.Rev(ctx, docID); err != nil {
			return "", err
		}
	}
	reqOpts, err := requestOptions([]Option{Param("rev", rev)})
	if err != nil {
		return "", err
	}
	var result docResult
	if err := db.client.client.DoJSON(ctx, http.MethodDelete, db.path(chttp.EncodeDocID(docID)), reqOpts, &result); err != nil {
		return "", err
	}
	return result.Rev, nil
}

// Copy copies the source document to a new document with targetID, and
// returns the revision of the copy. To overwrite an existing target, append
// its revision to targetID as "id?rev=1-abc".
func (db *DB) Copy(ctx context.Context, targetID, sourceID string, opts ...Option) (string, error) {
	if targetID == "" {
		return "", missingArg("targetID")
	}
	if sourceID == "" {
		return "", missingArg("sourceID")
	}
	reqOpts, err := requestOptions(opts)
	if err != nil {
		return "", err
	}
	reqOpts.Header = http.Header{"Destination": []string{targetID}}
	var result docResult
	if err := db.client.client.DoJSON(ctx, "COPY", db.path(chttp.EncodeDocID(sourceID)), reqOpts, &result); err != nil {
		return "", err
	}
	return result.Rev, nil
}

// RevInfo describes one revision of a document.
type RevInfo struct {
	Rev    string `json:"rev"`
	Status string `json:"status"`
}

// Revisions returns the known revisions of a document, newest first.
func (db *DB) Revisions(ctx context.Context, docID string) ([]RevInfo, error) {
	var doc struct {
		RevsInfo []RevInfo `json:"_revs_info"`
	}
	if err := db.Get(ctx, docID, &doc, Param("revs_info", true)); err != nil {
		return nil, err
	}
	return doc.RevsInfo, nil
}

// GetDocument fetches a document as a [Document].
func (db *DB) GetDocument(ctx context.Context, docID string, opts ...Option) (Document, error) {
	var doc Document
	if err := db.Get(ctx, docID, &doc, opts...); err != nil {
		return nil, err
	}
	return doc, nil
}
